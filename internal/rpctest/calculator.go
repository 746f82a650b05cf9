package rpctest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"async-rpc/client"
	"async-rpc/future"
)

type Operation int32

const (
	OperationAdd      Operation = 1
	OperationSubtract Operation = 2
	OperationMultiply Operation = 3
	OperationDivide   Operation = 4
)

type Work struct {
	Num1    int32     `json:"num1"`
	Num2    int32     `json:"num2"`
	Op      Operation `json:"op"`
	Comment string    `json:"comment,omitempty"`
}

// InvalidOperation is the declared failure of calculate.
type InvalidOperation struct {
	WhatOp int32  `json:"whatOp"`
	Why    string `json:"why"`
}

func (e *InvalidOperation) Error() string {
	return e.Why
}

func (e *InvalidOperation) FailureName() string {
	return "InvalidOperation"
}

type SharedStruct struct {
	Key   int32  `json:"key"`
	Value string `json:"value"`
}

type AddArgs struct {
	Num1 int32 `json:"num1"`
	Num2 int32 `json:"num2"`
}

type CalculateArgs struct {
	LogID int32 `json:"logid"`
	W     Work  `json:"w"`
}

type GetStructArgs struct {
	Key int32 `json:"key"`
}

type SleepArgs struct {
	Millis int `json:"millis"`
}

// Calculator is the server side of the calculator service.
type Calculator struct {
	mu   sync.Mutex
	log  map[int32]SharedStruct
	zips atomic.Int64
}

func NewCalculator() *Calculator {
	return &Calculator{log: make(map[int32]SharedStruct)}
}

// NewCalculatorServer returns a server with a fresh Calculator registered.
func NewCalculatorServer(s *Server) (*Calculator, error) {
	calc := NewCalculator()
	if err := s.Register(calc, "zip"); err != nil {
		return nil, err
	}
	return calc, nil
}

func (c *Calculator) Ping(_ *Void, _ *Void) error {
	return nil
}

func (c *Calculator) Add(args *AddArgs, reply *int32) error {
	*reply = args.Num1 + args.Num2
	return nil
}

func (c *Calculator) Calculate(args *CalculateArgs, reply *int32) error {
	w := args.W
	var val int32
	switch w.Op {
	case OperationAdd:
		val = w.Num1 + w.Num2
	case OperationSubtract:
		val = w.Num1 - w.Num2
	case OperationMultiply:
		val = w.Num1 * w.Num2
	case OperationDivide:
		if w.Num2 == 0 {
			return &InvalidOperation{WhatOp: int32(w.Op), Why: "Cannot divide by 0"}
		}
		val = w.Num1 / w.Num2
	default:
		return &InvalidOperation{WhatOp: int32(w.Op), Why: "Invalid operation"}
	}

	c.mu.Lock()
	c.log[args.LogID] = SharedStruct{Key: args.LogID, Value: strconv.Itoa(int(val))}
	c.mu.Unlock()

	*reply = val
	return nil
}

func (c *Calculator) GetStruct(args *GetStructArgs, reply *SharedStruct) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.log[args.Key]
	if !ok {
		return fmt.Errorf("no log entry %d", args.Key)
	}
	*reply = entry
	return nil
}

func (c *Calculator) Zip(_ *Void, _ *Void) error {
	c.zips.Add(1)
	return nil
}

func (c *Calculator) Sleep(args *SleepArgs, _ *Void) error {
	time.Sleep(time.Duration(args.Millis) * time.Millisecond)
	return nil
}

// Zips returns how many zip calls were received.
func (c *Calculator) Zips() int64 {
	return c.zips.Load()
}

// CalculatorService is the client contract of the calculator.
var CalculatorService = client.NewService("Calculator",
	client.Method{Name: "ping", Result: client.VoidResult()},
	client.Method{Name: "add", Result: client.JSONResult[int32]()},
	client.Method{Name: "calculate", Result: client.JSONResult[int32]()},
	client.Method{Name: "getStruct", Result: client.JSONResult[SharedStruct]()},
	client.Method{Name: "zip", Oneway: true},
	client.Method{Name: "sleep", Result: client.VoidResult()},
)

// CalculatorClient is a typed stub over a client built for
// CalculatorService.
type CalculatorClient struct {
	c *client.Client
}

func NewCalculatorClient(c *client.Client) *CalculatorClient {
	return &CalculatorClient{c: c}
}

func (c *CalculatorClient) Ping(ctx context.Context) *future.Future[any] {
	return c.c.Call(ctx, "ping", nil)
}

func (c *CalculatorClient) Add(ctx context.Context, num1, num2 int32) *future.Future[int32] {
	return client.As[int32](c.c.Call(ctx, "add", &AddArgs{Num1: num1, Num2: num2}))
}

func (c *CalculatorClient) Calculate(ctx context.Context, logID int32, w Work) *future.Future[int32] {
	return client.As[int32](c.c.Call(ctx, "calculate", &CalculateArgs{LogID: logID, W: w}))
}

func (c *CalculatorClient) GetStruct(ctx context.Context, key int32) *future.Future[SharedStruct] {
	return client.As[SharedStruct](c.c.Call(ctx, "getStruct", &GetStructArgs{Key: key}))
}

func (c *CalculatorClient) Zip(ctx context.Context) *future.Future[any] {
	return c.c.Call(ctx, "zip", nil)
}

func (c *CalculatorClient) Sleep(ctx context.Context, d time.Duration, opts ...client.CallOption) *future.Future[any] {
	return c.c.Call(ctx, "sleep", &SleepArgs{Millis: int(d / time.Millisecond)}, opts...)
}
