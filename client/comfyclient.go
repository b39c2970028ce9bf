package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ComfyClient is the connection to one ComfyUI backend. It wraps the
// HTTP endpoints and maintains the websocket push channel; decoded
// events and binary frames accumulate in internal buffers until the
// owning queue drains them on its tick.
type ComfyClient struct {
	serverBaseAddress string
	serverAddress     string
	serverPort        int
	clientid          string
	initialized       bool
	timeout           int
	httpclient        *http.Client
	webSocket         *WebSocketConnection

	mu     sync.Mutex
	events []Event
	frames []BinaryFrame
}

// NewComfyClient creates a new client for one server. The websocket is
// not opened until Init is called.
func NewComfyClient(serverAddress string, serverPort int) *ComfyClient {
	return NewComfyClientWithTimeout(serverAddress, serverPort, -1)
}

// NewComfyClientWithTimeout creates a new client with a connection
// timeout in seconds (negative waits indefinitely).
func NewComfyClientWithTimeout(serverAddress string, serverPort int, timeout int) *ComfyClient {
	sbaseaddr := serverAddress + ":" + strconv.Itoa(serverPort)
	cid := uuid.New().String()
	retv := &ComfyClient{
		serverBaseAddress: sbaseaddr,
		serverAddress:     serverAddress,
		serverPort:        serverPort,
		clientid:          cid,
		initialized:       false,
		timeout:           timeout,
		httpclient:        &http.Client{},
	}
	retv.webSocket = &WebSocketConnection{
		WebSocketURL:   fmt.Sprintf("ws://%s/ws?clientId=%s", sbaseaddr, cid),
		ConnectionDone: make(chan bool),
		MaxRetry:       5,
		Callback:       retv,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
	}
	return retv
}

// IsInitialized returns true if the client's websocket is connected and initialized
func (c *ComfyClient) IsInitialized() bool {
	return c.initialized
}

// Init opens the websocket connection to the server.
func (c *ComfyClient) Init() error {
	if c.initialized {
		return nil
	}
	if err := c.webSocket.ConnectWithManager(c.timeout); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// CheckConnection checks if the websocket connection is still active and tries to reinitialize if not
func (c *ComfyClient) CheckConnection() error {
	if !c.initialized || !c.webSocket.IsConnected {
		c.initialized = false
		return c.Init()
	}
	return nil
}

// IsConnected reports whether the push channel is up.
func (c *ComfyClient) IsConnected() bool {
	return c.initialized && c.webSocket.IsConnected
}

// Close tears down the websocket connection.
func (c *ComfyClient) Close() error {
	c.initialized = false
	return c.webSocket.Close()
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// ServerAddress returns the host:port this client talks to.
func (c *ComfyClient) ServerAddress() string {
	return c.serverBaseAddress
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// OnMessage processes each text message received from the websocket
// connection and buffers the decoded event for the next drain.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), &message); err != nil {
		slog.Error("Deserializing Status Message:", "error", err)
		return
	}

	ev := message.ToEvent()
	if ev == nil {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, *ev)
	c.mu.Unlock()
}

// OnBinaryMessage decodes an out-of-band binary frame and buffers it.
func (c *ComfyClient) OnBinaryMessage(data []byte) {
	frame, err := DecodeBinaryFrame(data)
	if err != nil {
		slog.Warn("Undecodable binary frame", "error", err)
		return
	}

	c.mu.Lock()
	c.frames = append(c.frames, *frame)
	c.mu.Unlock()
}

// DrainEvents returns all buffered events and clears the buffer. The
// queue calls this from its tick so event handling stays single-threaded.
func (c *ComfyClient) DrainEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	retv := c.events
	c.events = nil
	return retv
}

// DrainFrames returns all buffered binary frames and clears the buffer.
func (c *ComfyClient) DrainFrames() []BinaryFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	retv := c.frames
	c.frames = nil
	return retv
}
