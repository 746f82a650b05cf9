package rpctest

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// Void is the reply type of methods that return nothing. Their REPLY carries
// no success value.
type Void struct{}

// Failure is implemented by errors that are part of a service contract. They
// are answered with a REPLY carrying a failure instead of an EXCEPTION.
type Failure interface {
	error
	FailureName() string
}

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
	oneway    bool
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType // by wire name
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	voidType  = reflect.TypeOf(Void{})
)

// newService scans rcvr for methods of the form
//
//	func (t *T) Name(args *A, reply *R) error
//
// and exposes them under their lowerCamel name, "Add" as "add".
func newService(rcvr any, oneway []string) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpctest: receiver must be a pointer to a struct, got %s", typ)
	}

	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if mt.NumIn() != 3 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1).Kind() != reflect.Ptr || mt.In(2).Kind() != reflect.Ptr {
			continue
		}
		s.method[wireName(m.Name)] = &methodType{
			method:    m,
			ArgType:   mt.In(1).Elem(),
			ReplyType: mt.In(2).Elem(),
		}
	}

	for _, name := range oneway {
		m, ok := s.method[name]
		if !ok {
			return nil, fmt.Errorf("rpctest: %s has no method %q", s.name, name)
		}
		m.oneway = true
	}
	return s, nil
}

func (s *service) call(m *methodType, argv, replyv reflect.Value) error {
	results := m.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	if err := results[0].Interface(); err != nil {
		return err.(error)
	}
	return nil
}

func wireName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
