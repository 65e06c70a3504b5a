package model

import (
	"fmt"
	"strings"
)

const (
	manifestFile  = "manifest.yaml"
	objectsPrefix = "objects/"
)

// ManifestPath yields the in-repository path of the namespace manifest.
func ManifestPath() string {
	return manifestFile
}

// ArchivePathToObject yields the in-repository path of an object record,
// sharded by key prefix to bound directory fan-out.
func ArchivePathToObject(key Key) string {
	return fmt.Sprint(objectsPrefix, string(key)[:2], "/", key)
}

// ArchivePathPrefixToObjects yields the common prefix of all object records.
func ArchivePathPrefixToObjects() string {
	return objectsPrefix
}

// ArchivePathComponents defines the parts of a parsed object archive path.
type ArchivePathComponents struct {
	Shard string
	Key   Key
}

// GetArchivePathComponents yields the components of a parsed archive path.
func GetArchivePathComponents(archivePath string) (ArchivePathComponents, error) {
	cs := strings.SplitN(archivePath, "/", 3)
	if len(cs) < 3 || cs[0]+"/" != objectsPrefix {
		return ArchivePathComponents{},
			fmt.Errorf("path is invalid: expect objects/{shard}/{key}, got: %s", archivePath)
	}
	key := Key(cs[2])
	if !key.Valid() || !strings.HasPrefix(string(key), cs[1]) {
		return ArchivePathComponents{},
			fmt.Errorf("path is invalid: key %q does not match shard %q: %s", cs[2], cs[1], archivePath)
	}
	return ArchivePathComponents{Shard: cs[1], Key: key}, nil
}
