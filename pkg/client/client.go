package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/rs/zerolog"
)

// ErrNoQuery is returned when an evaluation has neither a query file nor an
// unsaved document to run.
var ErrNoQuery = errors.New("no query file and no unsaved document")

// Backend issues requests over a managed worker connection.
// *controller.Controller implements it.
type Backend interface {
	Issue(ctx context.Context, method string, params *protocol.Params) (json.RawMessage, error)
	SessionID() string
	IsReady() bool
	Reconnect() error
	WaitReady(ctx context.Context) error
}

// Client exposes the worker's operations as typed calls
type Client struct {
	backend   Backend
	workspace Workspace
	logger    zerolog.Logger

	mu            sync.RWMutex
	connectorPath string
}

// Options configures a Client
type Options struct {
	// ConnectorPath is the built connector (.mez) passed to the worker
	ConnectorPath string

	// Workspace supplies the working directory and unsaved document text
	Workspace Workspace
}

// New creates a client on top of backend
func New(backend Backend, opts Options) *Client {
	ws := opts.Workspace
	if ws == nil {
		ws = StaticWorkspace{}
	}
	return &Client{
		backend:       backend,
		workspace:     ws,
		logger:        log.WithComponent("client"),
		connectorPath: opts.ConnectorPath,
	}
}

// WithLogger replaces the client's logger
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.logger = l
	return c
}

// SetConnectorPath changes the connector used by later calls
func (c *Client) SetConnectorPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectorPath = path
}

// ConnectorPath returns the configured connector path
func (c *Client) ConnectorPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectorPath
}

// Ping checks that the worker answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, protocol.MethodPing, c.params())
	return err
}

// ForceShutdown asks the worker process to exit
func (c *Client) ForceShutdown(ctx context.Context) error {
	_, err := c.call(ctx, protocol.MethodForceShutdown, c.params())
	return err
}

// ListCredentials lists stored data source credentials
func (c *Client) ListCredentials(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, protocol.MethodListCredentials, c.params())
}

// DeleteCredential removes the credential for one data source, or every
// stored credential when all is set.
func (c *Client) DeleteCredential(ctx context.Context, kind, path string, all bool) (json.RawMessage, error) {
	if !all && kind == "" {
		return nil, errors.New("data source kind is required unless deleting all credentials")
	}
	p := c.params()
	p.DataSourceKind = kind
	p.DataSourcePath = path
	p.AllCredentials = all
	return c.call(ctx, protocol.MethodDeleteCredential, p)
}

// RefreshCredential refreshes the credential used by the connector
func (c *Client) RefreshCredential(ctx context.Context) (json.RawMessage, error) {
	p := c.params()
	p.PathToConnector = c.ConnectorPath()
	return c.call(ctx, protocol.MethodRefreshCredential, p)
}

// GenerateCredentialTemplate returns the credential input template for the
// data source referenced by the query.
func (c *Client) GenerateCredentialTemplate(ctx context.Context, queryFile string) (json.RawMessage, error) {
	p, err := c.queryParams(queryFile)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, protocol.MethodGenerateCredentialTemplate, p)
}

// SetCredential stores a credential from a filled-in template
func (c *Client) SetCredential(ctx context.Context, queryFile string, template json.RawMessage) (json.RawMessage, error) {
	if len(template) == 0 {
		return nil, errors.New("credential template is empty")
	}
	if !json.Valid(template) {
		return nil, errors.New("credential template is not valid JSON")
	}
	p, err := c.queryParams(queryFile)
	if err != nil {
		return nil, err
	}
	p.InputTemplate = template
	return c.call(ctx, protocol.MethodSetCredential, p)
}

// DisplayExtensionInfo returns the connector's data source information
func (c *Client) DisplayExtensionInfo(ctx context.Context) (json.RawMessage, error) {
	p := c.params()
	p.PathToConnector = c.ConnectorPath()
	return c.call(ctx, protocol.MethodDisplayExtensionInfo, p)
}

// RunTestBattery evaluates the query file, or the unsaved document when
// queryFile is empty.
func (c *Client) RunTestBattery(ctx context.Context, queryFile string) (json.RawMessage, error) {
	p, err := c.queryParams(queryFile)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, protocol.MethodRunTestBattery, p)
}

// TestConnection runs the connector's TestConnection handler
func (c *Client) TestConnection(ctx context.Context, queryFile string) (json.RawMessage, error) {
	p, err := c.queryParams(queryFile)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, protocol.MethodTestConnection, p)
}

// EnsureReady forces one connection cycle unless already connected, then
// waits for it to settle.
func (c *Client) EnsureReady(ctx context.Context) error {
	if c.backend.IsReady() {
		return nil
	}
	if err := c.backend.Reconnect(); err != nil {
		return fmt.Errorf("failed to start connection cycle: %w", err)
	}
	return c.backend.WaitReady(ctx)
}

// WarmupHook returns the hook run after the first connection: it loads the
// connector once so later evaluations start fast. Nothing happens when no
// connector is built yet.
func (c *Client) WarmupHook() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		path := c.ConnectorPath()
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			c.logger.Debug().Str("connector", path).Msg("Connector not found, skipping warm-up")
			return nil
		}
		_, err := c.DisplayExtensionInfo(ctx)
		return err
	}
}

func (c *Client) params() *protocol.Params {
	return &protocol.Params{SessionID: c.backend.SessionID()}
}

// queryParams fills connector, working directory and query source.
func (c *Client) queryParams(queryFile string) (*protocol.Params, error) {
	p := c.params()
	p.PathToConnector = c.ConnectorPath()
	p.WorkingDirectory = c.workspace.FirstFolder()

	if queryFile != "" {
		p.PathToQueryFile = queryFile
		return p, nil
	}
	doc, ok := c.workspace.UnsavedDocument()
	if !ok {
		return nil, ErrNoQuery
	}
	p.PathToQueryFile = doc.Path
	p.QueryFileContent = doc.Text
	return p, nil
}

func (c *Client) call(ctx context.Context, method string, p *protocol.Params) (json.RawMessage, error) {
	payload, err := c.backend.Issue(ctx, method, p)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("kind", protocol.Classify(err).String()).Msg("Request failed")
		return nil, err
	}
	return payload, nil
}
