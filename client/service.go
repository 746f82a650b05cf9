package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"async-rpc/future"
	"async-rpc/message"
)

// ResultDecoder turns the body of a REPLY into the call's value. It returns
// an *ApplicationFailure for a declared failure; any other error is reported
// to the caller as a *DecodeError.
type ResultDecoder func(payload []byte) (any, error)

// Method describes one method of a service contract.
type Method struct {
	Name   string
	Oneway bool          // no response is ever sent
	Result ResultDecoder // nil for oneway methods
}

// Service is the client side of a service contract: the set of methods a
// connection can call and decode responses for.
type Service struct {
	Name    string
	methods map[string]*Method
}

// NewService builds a service from its methods. It panics on a duplicate or
// malformed method, which is a programming error in the contract.
func NewService(name string, methods ...Method) *Service {
	s := &Service{Name: name, methods: make(map[string]*Method, len(methods))}
	for i := range methods {
		m := methods[i]
		if _, dup := s.methods[m.Name]; dup {
			panic(fmt.Sprintf("rpc: service %s declares %s twice", name, m.Name))
		}
		if !m.Oneway && m.Result == nil {
			panic(fmt.Sprintf("rpc: method %s.%s has no result decoder", name, m.Name))
		}
		s.methods[m.Name] = &m
	}
	return s
}

// Method looks up a method by name.
func (s *Service) Method(name string) (*Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

var errMissingResult = errors.New("reply carries neither result nor failure")

// JSONResult decodes a REPLY whose success value is a JSON encoded T.
func JSONResult[T any]() ResultDecoder {
	return func(payload []byte) (any, error) {
		result, err := decodeResult(payload)
		if err != nil {
			return nil, err
		}
		if len(result.Success) == 0 {
			return nil, errMissingResult
		}
		var v T
		if err := json.Unmarshal(result.Success, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// VoidResult decodes a REPLY of a method that returns nothing. The call
// resolves with a nil value.
func VoidResult() ResultDecoder {
	return func(payload []byte) (any, error) {
		if _, err := decodeResult(payload); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func decodeResult(payload []byte) (*message.Result, error) {
	var result message.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, err
	}
	if result.Failure != nil {
		return nil, &ApplicationFailure{
			Name:    result.Failure.Name,
			Message: result.Failure.Message,
			Data:    result.Failure.Data,
		}
	}
	return &result, nil
}

// As converts an untyped call future into a typed one, for generated
// service stubs. A value of the wrong type fails the returned future.
func As[T any](f *future.Future[any]) *future.Future[T] {
	return future.Map(f, func(v any) (T, error) {
		if v == nil {
			var zero T
			return zero, nil
		}
		t, ok := v.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("rpc: result is %T, want %T", v, zero)
		}
		return t, nil
	})
}
