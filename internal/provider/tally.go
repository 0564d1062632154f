package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

const maxResponseBytes = 32 << 20

// TallyClient implements TargetSystem against the Tally XML HTTP server.
type TallyClient struct {
	url        string
	httpClient *http.Client
	mapper     *TallyMapper
	timeout    time.Duration
}

// NewTallyClient creates a new TallyClient. timeout bounds every call,
// including reading the response.
func NewTallyClient(url string, timeout time.Duration, httpClient *http.Client) *TallyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second // same default as config.go
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TallyClient{
		url:        url,
		httpClient: httpClient,
		mapper:     NewTallyMapper(),
		timeout:    timeout,
	}
}

// withTimeout wraps ctx with the configured call timeout.
func (c *TallyClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Name returns the target name.
func (c *TallyClient) Name() string { return "tally" }

// CreateMaster imports one master.
func (c *TallyClient) CreateMaster(ctx context.Context, company string, payload domain.CreationPayload) (*Result, error) {
	body, err := c.mapper.MasterEnvelope(company, payload)
	if err != nil {
		return nil, &SyncError{Kind: domain.SyncRejected, Message: "build master envelope", Err: err}
	}
	res, err := c.importXML(ctx, body)
	if err != nil {
		return nil, err
	}
	logger.Debug("Tally master created",
		zap.String("company", company),
		zap.String("master_type", string(payload.MasterType)),
		zap.String("master_name", payload.Name),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// PostVoucher imports one voucher.
func (c *TallyClient) PostVoucher(ctx context.Context, company string, voucher Voucher) (*Result, error) {
	body, err := c.mapper.VoucherEnvelope(company, voucher)
	if err != nil {
		return nil, &SyncError{Kind: domain.SyncRejected, Message: "build voucher envelope", Err: err}
	}
	return c.importXML(ctx, body)
}

func (c *TallyClient) importXML(ctx context.Context, body []byte) (*Result, error) {
	ex, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	parsed, err := c.mapper.ParseImportResponse([]byte(ex.ResponseXML))
	if err != nil {
		return nil, &SyncError{Kind: domain.SyncRejected, Message: "unreadable response", Exchange: ex, Err: err}
	}
	if parsed.Failed() {
		text := parsed.ErrorText()
		return nil, &SyncError{Kind: ClassifyMessage(text), Message: text, Exchange: ex}
	}

	return &Result{
		Exchange:      ex,
		Created:       parsed.Created,
		Altered:       parsed.Altered,
		Ignored:       parsed.Ignored,
		VoucherNumber: parsed.VoucherNumber,
	}, nil
}

// ExportCollection lists the names of every master of kind.
func (c *TallyClient) ExportCollection(ctx context.Context, company string, kind domain.CatalogKind) ([]string, error) {
	body, err := c.mapper.ExportEnvelope(company, kind)
	if err != nil {
		return nil, err
	}
	ex, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	names, err := c.mapper.ParseCollection([]byte(ex.ResponseXML), kind)
	if err != nil {
		return nil, &SyncError{Kind: domain.SyncRejected, Message: "export collection", Exchange: ex, Err: err}
	}
	return names, nil
}

// Ping checks that the Tally server answers. Tally replies to a bare GET
// with a short status line.
func (c *TallyClient) Ping(ctx context.Context) error {
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(opCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SyncError{Kind: classifyTransport(err), Message: "ping", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return &SyncError{Kind: domain.SyncUnreachable, Message: fmt.Sprintf("ping: HTTP %d", resp.StatusCode)}
	}
	return nil
}

// post sends body and returns the exchange. Transport failures and non-200
// statuses come back as *SyncError carrying whatever was exchanged.
func (c *TallyClient) post(ctx context.Context, body []byte) (Exchange, error) {
	ex := Exchange{RequestXML: string(body)}

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(opCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return ex, &SyncError{Kind: domain.SyncUnreachable, Message: "build request", Exchange: ex, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		ex.Duration = time.Since(start)
		return ex, &SyncError{Kind: classifyTransport(err), Message: "send request", Exchange: ex, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	ex.Duration = time.Since(start)
	ex.StatusCode = resp.StatusCode
	ex.ResponseXML = string(raw)
	if err != nil {
		return ex, &SyncError{Kind: classifyTransport(err), Message: "read response", Exchange: ex, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return ex, &SyncError{
			Kind:     domain.SyncUnreachable,
			Message:  fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
			Exchange: ex,
		}
	}
	return ex, nil
}
