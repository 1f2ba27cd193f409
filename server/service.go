package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

type methodType struct {
	method   reflect.Method
	name     string         // JSON-RPC name, e.g. "data" for Data
	withCtx  bool           // First argument is a context.Context
	ArgTypes []reflect.Type // Positional arguments after the optional context
	hasValue bool           // Returns a result before the optional error
	hasError bool           // Last return value is an error
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService 创建 service 并扫描所有合法方法
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: %s has no exported methods usable over rpc", srv.name)
	}
	return srv, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods 扫描 struct 的导出方法，合法签名：
//
//	func (rcvr) M([ctx,] args...) (R, error)
//	func (rcvr) M([ctx,] args...) R
//	func (rcvr) M([ctx,] args...) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := &methodType{method: method, name: rpcName(method.Name)}
		ft := method.Type
		if ft.IsVariadic() {
			continue
		}

		switch ft.NumOut() {
		case 1:
			if ft.Out(0) == errorType {
				mt.hasError = true
			} else {
				mt.hasValue = true
			}
		case 2:
			if ft.Out(1) != errorType {
				continue
			}
			mt.hasValue, mt.hasError = true, true
		default:
			continue
		}

		first := 1 // In(0) is the receiver
		if ft.NumIn() > 1 && ft.In(1) == contextType {
			mt.withCtx = true
			first = 2
		}
		for j := first; j < ft.NumIn(); j++ {
			mt.ArgTypes = append(mt.ArgTypes, ft.In(j))
		}
		s.method[mt.name] = mt
	}
}

// rpcName lower-cases the first letter: Data → data, GetUser → getUser.
func rpcName(goName string) string {
	r, size := utf8.DecodeRuneInString(goName)
	return string(unicode.ToLower(r)) + goName[size:]
}

// decodeParams turns the raw params member into call arguments.
// Omitted params suit only zero-argument methods. An array must match the arity
// exactly. An object is accepted only for a single struct argument.
func (mt *methodType) decodeParams(raw json.RawMessage) ([]reflect.Value, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		if len(mt.ArgTypes) != 0 {
			return nil, InvalidParams("expected %d parameters but params was omitted", len(mt.ArgTypes))
		}
		return nil, nil
	}

	if raw[0] == '{' {
		if len(mt.ArgTypes) != 1 || !isStruct(mt.ArgTypes[0]) {
			return nil, InvalidParams("named parameters need a single struct argument, %s takes %d", mt.name, len(mt.ArgTypes))
		}
		argv := reflect.New(mt.ArgTypes[0])
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(argv.Interface()); err != nil {
			return nil, InvalidParams("named parameters do not match %s: %v", mt.name, err)
		}
		return []reflect.Value{argv.Elem()}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, InvalidParams("%v", err)
	}
	if len(items) != len(mt.ArgTypes) {
		return nil, InvalidParams("wrong number of parameters, expected %d got %d", len(mt.ArgTypes), len(items))
	}
	args := make([]reflect.Value, len(items))
	for i, item := range items {
		argv := reflect.New(mt.ArgTypes[i])
		if err := json.Unmarshal(item, argv.Interface()); err != nil {
			return nil, InvalidParams("parameter %d: %v", i, err)
		}
		args[i] = argv.Elem()
	}
	return args, nil
}

func isStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// Call 通过反射调用方法。Panics are left to the caller.
func (s *service) Call(ctx context.Context, mt *methodType, args []reflect.Value) (any, error) {
	in := make([]reflect.Value, 0, len(args)+2)
	in = append(in, s.rcvr)
	if mt.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)

	results := mt.method.Func.Call(in)

	var value any
	if mt.hasValue {
		value = results[0].Interface()
	}
	if mt.hasError {
		if errv := results[len(results)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	return value, nil
}
