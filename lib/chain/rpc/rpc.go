// Package rpc implements the JSON-RPC 2.0 connection shared by the chain clients.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrBadReply reports a structurally broken reply, ie. a batch response that does not cover
// every request id.
var ErrBadReply = errors.New("malformed node reply")

// ResponseError is a protocol-level failure: the node replied, but the reply carries an error
// object. It is distinct from a transport failure (node unreachable), which surfaces as a
// wrapped *url.Error from the underlying http client.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("node response error %d: %s", e.Code, e.Message)
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope. Result is kept raw so each client decodes it
// with the numeric precision it needs (json.Number, hex quantities).
type Response struct {
	Result json.RawMessage `json:"result"`
	Error  *ResponseError  `json:"error"`
	ID     uint64          `json:"id"`
}

// Conn is a JSON-RPC connection to one node. Request ids start at 1 and increment per call.
// A Conn is safe for use from multiple goroutines.
type Conn struct {
	endpoint string
	secret   string // optional Authorization header value
	hc       *http.Client
	cb       *gobreaker.CircuitBreaker
	mu       sync.Mutex
	id       uint64
}

const requestTimeout = 30 * time.Second

// Tweakable circuit breaker caps, shared by all connections.
var (
	MaxNumOfFailingRequests = 10
	FailingRatio            = 0.6
)

// New returns a connection to the node at endpoint. secret, when not empty, is sent verbatim
// as the Authorization header (ie. "Basic dXNlcjpwYXNz").
func New(endpoint, secret string) *Conn {
	return &Conn{
		endpoint: endpoint,
		secret:   secret,
		hc:       &http.Client{Timeout: requestTimeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: endpoint,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
			},
		}),
	}
}

// Endpoint returns the node url this connection talks to.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

func (c *Conn) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id++

	return c.id
}

// Call issues one JSON-RPC request and returns the raw result. A reply carrying a non-null
// error object returns *ResponseError regardless of whether a result is also present.
func (c *Conn) Call(method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	req := Request{Version: "2.0", ID: c.nextID(), Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: cannot marshal request: %w", err)
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.post(body)
	})
	if err != nil {
		return nil, err
	}

	reply := res.(*Response)
	if reply.Error != nil {
		return nil, reply.Error
	}

	return reply.Result, nil
}

// CallBatch issues a JSON-RPC batch: one HTTP round trip carrying all the requests. The
// replies are returned in request order. Any reply with an error object fails the batch.
func (c *Conn) CallBatch(method string, batchParams [][]interface{}) ([]json.RawMessage, error) {
	if len(batchParams) == 0 {
		return nil, nil
	}

	reqs := make([]Request, len(batchParams))
	for i, params := range batchParams {
		if params == nil {
			params = []interface{}{}
		}

		reqs[i] = Request{Version: "2.0", ID: c.nextID(), Method: method, Params: params}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("rpc: cannot marshal batch request: %w", err)
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.postBatch(body)
	})
	if err != nil {
		return nil, err
	}

	replies := res.([]Response)
	byID := make(map[uint64]*Response, len(replies))

	for i := range replies {
		byID[replies[i].ID] = &replies[i]
	}

	results := make([]json.RawMessage, len(reqs))

	for i, req := range reqs {
		reply, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("rpc: batch reply missing id %d: %w", req.ID, ErrBadReply)
		}

		if reply.Error != nil {
			return nil, reply.Error
		}

		results[i] = reply.Result
	}

	return results, nil
}

func (c *Conn) post(body []byte) (*Response, error) {
	raw, err := c.roundTrip(body)
	if err != nil {
		return nil, err
	}

	reply := new(Response)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(reply); err != nil {
		return nil, fmt.Errorf("rpc: cannot decode reply: %w", err)
	}

	return reply, nil
}

func (c *Conn) postBatch(body []byte) ([]Response, error) {
	raw, err := c.roundTrip(body)
	if err != nil {
		return nil, err
	}

	var replies []Response

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&replies); err != nil {
		return nil, fmt.Errorf("rpc: cannot decode batch reply: %w", err)
	}

	return replies, nil
}

func (c *Conn) roundTrip(body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: cannot build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.secret != "" {
		req.Header.Set("Authorization", c.secret)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s unreachable: %w", c.endpoint, err)
	}
	defer res.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(res.Body); err != nil {
		return nil, fmt.Errorf("rpc: cannot read reply: %w", err)
	}

	return buf.Bytes(), nil
}
