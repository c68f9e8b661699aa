// Package main provides a CI-friendly end-to-end smoke test for passshare.
//
// It validates:
//   - user lookup, session create + join over HTTP
//   - handshake + subprotocol selection
//   - hello/ack and session topic subscription
//   - typing fan-out between two clients
//   - upload -> file_uploaded notice to a subscriber
//   - copy to personal drive, then duplicate rejection
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type apiFile struct {
	ID        string  `json:"id"`
	SessionID *string `json:"session_id"`
	FileName  string  `json:"file_name"`
}

type fileUploaded struct {
	Kind           string `json:"kind"`
	SessionPasskey string `json:"session_passkey"`
	FileID         string `json:"file_id"`
	FileName       string `json:"file_name"`
	UploadedBy     string `json:"uploaded_by"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		passkey = flag.String("passkey", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "Session passkey to create")
		creator = flag.String("creator", "alice", "Seeded username that creates the session and uploads")
		joiner  = flag.String("joiner", "bob", "Seeded username that joins and copies the upload")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateHTTPURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}
	base := strings.TrimRight(*baseURL, "/")

	alice := mustLookupUser(hc, base, *creator)
	bob := mustLookupUser(hc, base, *joiner)

	mustCallJSON(hc, http.MethodPost, base+"/api/sessions", map[string]string{"passkey": *passkey, "username": alice.Username}, http.StatusCreated, nil)
	mustCallJSON(hc, http.MethodPost, base+"/api/sessions/"+url.PathEscape(*passkey)+"/join", map[string]string{"username": bob.Username}, http.StatusOK, nil)

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.connID, b.connID, *origin)
	}

	sessionTopic := v1.SessionTopic(*passkey)
	typingTopic := v1.TypingTopic(*passkey)

	mustSubscribe(root, a, sessionTopic, *timeout)
	mustSubscribe(root, b, typingTopic, *timeout)

	mustPublishTyping(root, a, typingTopic, *timeout)
	typing := b.mustReadUntilType(root, v1.TypeEvent, *timeout, nil)
	if typing.Topic != typingTopic {
		fatalf("typing topic mismatch: got=%q want=%q", typing.Topic, typingTopic)
	}

	uploaded := mustUpload(hc, base+"/api/sessions/"+url.PathEscape(*passkey)+"/files", alice.ID, "smoke.txt", []byte("passshare smoke"))
	if uploaded.SessionID == nil {
		fatalf("uploaded file is not tagged with the session")
	}

	ev := a.mustReadUntilType(root, v1.TypeEvent, *timeout, nil)
	var notice fileUploaded
	if err := json.Unmarshal(ev.Payload, &notice); err != nil {
		fatalf("unmarshal notice: %v", err)
	}
	if notice.Kind != "file_uploaded" || notice.FileID != uploaded.ID || notice.UploadedBy != alice.Username || notice.SessionPasskey != *passkey {
		fatalf("unexpected notice: %+v", notice)
	}

	var copied apiFile
	mustCallJSON(hc, http.MethodPost, base+"/api/files/"+uploaded.ID+"/copy", map[string]string{"user_id": bob.ID}, http.StatusCreated, &copied)
	if copied.SessionID != nil {
		fatalf("drive copy still tagged with a session")
	}
	mustCallJSON(hc, http.MethodPost, base+"/api/files/"+uploaded.ID+"/copy", map[string]string{"user_id": bob.ID}, http.StatusConflict, nil)

	mustAssertNoType(root, b, v1.TypeEvent, 750*time.Millisecond)

	fmt.Printf("OK: passkey=%s file_id=%s copy_id=%s A=%s B=%s\n", *passkey, uploaded.ID, copied.ID, a.connID, b.connID)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("hello_ack missing connection_id (%s)", name)
	}
	c.connID = p.ConnectionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSubscribe(parent context.Context, c *smokeClient, topic string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:     v1.Version,
		Type:  v1.TypeSubscribe,
		ID:    fmt.Sprintf("%s-sub", c.name),
		Topic: topic,
		TS:    time.Now().UTC(),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout, nil)
	if ack.ID != env.ID || ack.Topic != topic {
		fatalf("subscribed ack mismatch (%s): id=%q topic=%q", c.name, ack.ID, ack.Topic)
	}
}

func mustPublishTyping(parent context.Context, c *smokeClient, topic string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypePublish,
		ID:      fmt.Sprintf("%s-typing", c.name),
		Topic:   topic,
		TS:      time.Now().UTC(),
		Payload: mustJSON(map[string]any{"typing": true, "who": c.connID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustLookupUser(hc *http.Client, base, username string) apiUser {
	var u apiUser
	mustCallJSON(hc, http.MethodGet, base+"/api/users/"+url.PathEscape(username), nil, http.StatusOK, &u)
	if u.ID == "" {
		fatalf("user %q has no id", username)
	}
	return u
}

func mustCallJSON(hc *http.Client, method, target string, body any, wantStatus int, dst any) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		fatalf("build %s %s: %v", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	mustDo(hc, req, wantStatus, dst)
}

func mustUpload(hc *http.Client, target, userID, name string, data []byte) apiFile {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("user_id", userID); err != nil {
		fatalf("multipart field: %v", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		fatalf("multipart file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		fatalf("multipart write: %v", err)
	}
	if err := mw.Close(); err != nil {
		fatalf("multipart close: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, target, &buf)
	if err != nil {
		fatalf("build upload: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var f apiFile
	mustDo(hc, req, http.StatusCreated, &f)
	return f
}

func mustDo(hc *http.Client, req *http.Request, wantStatus int, dst any) {
	res, err := hc.Do(req)
	if err != nil {
		fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", req.Method, req.URL, res.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("%s %s: decode: %v", req.Method, req.URL, err)
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
