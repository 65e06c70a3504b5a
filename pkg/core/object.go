package core

import (
	"fmt"

	"github.com/keeldb/keel/pkg/errors"
	"github.com/keeldb/keel/pkg/model"
)

// Object is a live, typed instance held in the graph cache. Reference
// fields store keys; the referenced object is resolved lazily through
// the graph, never owned by the referrer.
type Object struct {
	graph  *Graph
	ns     *Namespace
	class  model.ClassDescriptor
	key    model.Key
	fields map[string]interface{}
}

// Key yields the object's immutable identity.
func (o *Object) Key() model.Key {
	return o.key
}

// Class yields the object's class tag.
func (o *Object) Class() string {
	return o.class.Tag
}

// Get reads a field value. Reference kinds yield the stored key(s), so
// reading a reference never fails on a missing target; use Resolve to
// dereference.
func (o *Object) Get(name string) (interface{}, error) {
	if _, ok := o.class.FieldByName(name); !ok {
		return nil, fmt.Errorf("class %s has no field %s", o.class.Tag, name)
	}
	v, ok := o.fields[name]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Set assigns a field value. The object must be reachable from an open
// session; the assignment is durable only once that session commits.
// Assigning a reference does not require the target to exist yet.
func (o *Object) Set(name string, value interface{}) error {
	fd, ok := o.class.FieldByName(name)
	if !ok {
		return fmt.Errorf("class %s has no field %s", o.class.Tag, name)
	}
	// Validate the value against its kind before mutating anything.
	if _, err := model.EncodeValue(fd.Kind, value); err != nil {
		return err
	}
	s := o.graph.currentSession()
	if s == nil || !s.isOpen() {
		return errors.ErrNoOpenSession
	}
	normalized, err := normalizeValue(fd.Kind, value)
	if err != nil {
		return err
	}
	o.fields[name] = normalized
	s.touch(o)
	return nil
}

// Resolve dereferences a reference field through the graph cache. It
// fails with a dangling reference error only here, at the access point.
func (o *Object) Resolve(name string) (*Object, error) {
	fd, ok := o.class.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("class %s has no field %s", o.class.Tag, name)
	}
	if fd.Kind != model.KindRef {
		return nil, fmt.Errorf("field %s of class %s is not a reference", name, o.class.Tag)
	}
	v, ok := o.fields[name]
	if !ok {
		return nil, nil
	}
	return o.resolveKey(fd, v.(model.Key))
}

// ResolveList dereferences every entry of an ordered reference sequence,
// in order.
func (o *Object) ResolveList(name string) ([]*Object, error) {
	fd, ok := o.class.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("class %s has no field %s", o.class.Tag, name)
	}
	if fd.Kind != model.KindRefList {
		return nil, fmt.Errorf("field %s of class %s is not a reference list", name, o.class.Tag)
	}
	v, ok := o.fields[name]
	if !ok {
		return nil, nil
	}
	keys := v.([]model.Key)
	targets := make([]*Object, 0, len(keys))
	for _, k := range keys {
		target, err := o.resolveKey(fd, k)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (o *Object) resolveKey(fd model.FieldDescriptor, key model.Key) (*Object, error) {
	target, err := o.graph.GetObject(key)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.ErrDanglingReference.Wrap(
			fmt.Errorf("field %s of %s points to missing key %s", fd.Name, o.key, key))
	}
	if target.class.Tag != fd.Target {
		return nil, errors.ErrDanglingReference.Wrap(
			fmt.Errorf("field %s of %s points to %s of class %s, expected %s",
				fd.Name, o.key, key, target.class.Tag, fd.Target))
	}
	return target, nil
}

// Delete marks the object for removal in the open session. The deletion
// becomes durable when the session commits.
func (o *Object) Delete() error {
	s := o.graph.currentSession()
	if s == nil || !s.isOpen() {
		return errors.ErrNoOpenSession
	}
	s.remove(o)
	return nil
}

// Record snapshots the object state into its stored form.
func (o *Object) Record() (model.Record, error) {
	r := model.Record{
		Class:  o.class.Tag,
		Key:    o.key,
		Schema: o.class.Version,
	}
	for _, fd := range o.class.Fields {
		v, ok := o.fields[fd.Name]
		if !ok {
			continue
		}
		encoded, err := model.EncodeValue(fd.Kind, v)
		if err != nil {
			return model.Record{}, err
		}
		r.Fields = append(r.Fields, model.Field{Name: fd.Name, Value: encoded})
	}
	r.Normalize()
	return r, nil
}

// normalizeValue converts accepted input forms to the single in-memory
// form per kind, so that reads always observe one type.
func normalizeValue(kind model.FieldKind, v interface{}) (interface{}, error) {
	encoded, err := model.EncodeValue(kind, v)
	if err != nil {
		return nil, err
	}
	return model.DecodeValue(kind, encoded)
}

func materialize(g *Graph, ns *Namespace, desc model.ClassDescriptor, r model.Record) (*Object, error) {
	o := &Object{
		graph:  g,
		ns:     ns,
		class:  desc,
		key:    r.Key,
		fields: make(map[string]interface{}, len(r.Fields)),
	}
	for _, f := range r.Fields {
		fd, ok := desc.FieldByName(f.Name)
		if !ok {
			return nil, fmt.Errorf("record %s carries unknown field %s for class %s", r.Key, f.Name, desc.Tag)
		}
		v, err := model.DecodeValue(fd.Kind, f.Value)
		if err != nil {
			return nil, fmt.Errorf("record %s field %s: %v", r.Key, f.Name, err)
		}
		o.fields[f.Name] = v
	}
	return o, nil
}
