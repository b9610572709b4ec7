package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start the engine.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Vigil.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the engine.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Vigil.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Vigil.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignalSend injects a signal into the engine.
func (c *Client) SignalSend(req SignalSendRequest) (*SignalSendResponse, error) {
	var resp SignalSendResponse
	if err := c.client.Call("Vigil.SignalSend", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaseList returns case summaries, optionally filtered by status.
func (c *Client) CaseList(status string) (*CaseListResponse, error) {
	var resp CaseListResponse
	if err := c.client.Call("Vigil.CaseList", CaseListRequest{Status: status}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaseDescribe returns one case with attempts and risk state.
func (c *Client) CaseDescribe(caseID, userID string) (*CaseDescribeResponse, error) {
	var resp CaseDescribeResponse
	req := CaseDescribeRequest{CaseID: caseID, UserID: userID}
	if err := c.client.Call("Vigil.CaseDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Acknowledge records a human acknowledgement of a case.
func (c *Client) Acknowledge(caseID, actor string) (*AcknowledgeResponse, error) {
	var resp AcknowledgeResponse
	req := AcknowledgeRequest{CaseID: caseID, Actor: actor}
	if err := c.client.Call("Vigil.Acknowledge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlanGet fetches a user's safety plan.
func (c *Client) PlanGet(userID string) (*PlanGetResponse, error) {
	var resp PlanGetResponse
	if err := c.client.Call("Vigil.PlanGet", PlanGetRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlanSet upserts a user's safety plan.
func (c *Client) PlanSet(req PlanSetRequest) (*PlanSetResponse, error) {
	var resp PlanSetResponse
	if err := c.client.Call("Vigil.PlanSet", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditExport fetches audit records for a user or case.
func (c *Client) AuditExport(req AuditExportRequest) (*AuditExportResponse, error) {
	var resp AuditExportResponse
	if err := c.client.Call("Vigil.AuditExport", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns structured log events from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Vigil.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Vigil.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers an operator alert test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Vigil.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reload re-reads the daemon's config file and applies it.
func (c *Client) Reload() (*ReloadResponse, error) {
	var resp ReloadResponse
	if err := c.client.Call("Vigil.Reload", ReloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
