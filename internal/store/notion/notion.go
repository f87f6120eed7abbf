package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/fleetmon/internal/record"
	"github.com/loykin/fleetmon/internal/store"
)

// Store implements store.Store against a Notion database: one page
// per process record, rich_text properties for the string fields and
// a select property for the status. This is the reference deployment
// of the record store; the operators browse the fleet as a Notion
// table with the latest screenshot attached to each row.

const (
	defaultBaseURL = "https://api.notion.com"
	notionVersion  = "2022-06-28"

	// Property names are part of the operator-facing database schema.
	propMachineID = "machineId"
	propProcessID = "processId"
	propChannel   = "channel"
	propAccountID = "accountId"
	propStatus    = "status"
	propImage     = "imagen"
)

// Config holds connection settings for the Notion record store.
type Config struct {
	Token      string
	DatabaseID string
	BaseURL    string // override for tests; defaults to the public API
	Timeout    time.Duration
	Logger     *slog.Logger
}

type Store struct {
	token      string
	databaseID string
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notion token is required")
	}
	if strings.TrimSpace(cfg.DatabaseID) == "" {
		return nil, errors.New("notion database id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

// Wire types. The Notion property bag is decoded at this boundary
// only; absent fields become empty strings so the engine always sees
// fully populated records.

type richText struct {
	PlainText string `json:"plain_text,omitempty"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

type property struct {
	RichText []richText `json:"rich_text,omitempty"`
	Select   *struct {
		Name string `json:"name"`
	} `json:"select,omitempty"`
	Files []struct {
		Name string `json:"name"`
	} `json:"files,omitempty"`
}

type page struct {
	ID             string              `json:"id"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]property `json:"properties"`
}

type queryResponse struct {
	Results []page `json:"results"`
}

func (p property) text() string {
	if len(p.RichText) == 0 {
		return ""
	}
	if p.RichText[0].PlainText != "" {
		return p.RichText[0].PlainText
	}
	if p.RichText[0].Text != nil {
		return p.RichText[0].Text.Content
	}
	return ""
}

func (p page) toRecord() record.Record {
	props := p.Properties
	rec := record.Record{
		ID:        p.ID,
		MachineID: props[propMachineID].text(),
		ProcessID: props[propProcessID].text(),
		Channel:   props[propChannel].text(),
		AccountID: props[propAccountID].text(),
		UpdatedAt: p.LastEditedTime,
	}
	if sel := props[propStatus].Select; sel != nil {
		rec.Status = record.Status(sel.Name)
	}
	if files := props[propImage].Files; len(files) > 0 {
		rec.ImageRef = files[0].Name
	}
	return rec
}

// Request builders for the write side. Create and update share the
// rich_text/select encoding.

func textProp(s string) map[string]any {
	return map[string]any{
		"rich_text": []map[string]any{{"text": map[string]any{"content": s}}},
	}
}

func selectProp(name string) map[string]any {
	return map[string]any{"select": map[string]any{"name": name}}
}

func fileProp(filename, uploadID string) map[string]any {
	return map[string]any{
		"files": []map[string]any{{
			"name":        filename,
			"type":        "file_upload",
			"file_upload": map[string]any{"id": uploadID},
		}},
	}
}

func (s *Store) QueryByMachine(ctx context.Context, machineID string) ([]record.Record, error) {
	body := map[string]any{
		"filter": map[string]any{
			"property":  propMachineID,
			"rich_text": map[string]any{"equals": machineID},
		},
	}
	var resp queryResponse
	if err := s.do(ctx, http.MethodPost, "/v1/databases/"+s.databaseID+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: query machine %s: %v", store.ErrQuery, machineID, err)
	}
	out := make([]record.Record, 0, len(resp.Results))
	for _, p := range resp.Results {
		out = append(out, p.toRecord())
	}
	return out, nil
}

func (s *Store) FindByMachineAndProcess(ctx context.Context, machineID, processID string) (record.Record, error) {
	body := map[string]any{
		"filter": map[string]any{
			"and": []map[string]any{
				{"property": propMachineID, "rich_text": map[string]any{"equals": machineID}},
				{"property": propProcessID, "rich_text": map[string]any{"equals": processID}},
				{"property": propStatus, "select": map[string]any{"equals": string(record.StatusActive)}},
			},
		},
	}
	var resp queryResponse
	if err := s.do(ctx, http.MethodPost, "/v1/databases/"+s.databaseID+"/query", body, &resp); err != nil {
		return record.Record{}, fmt.Errorf("%w: find %s/%s: %v", store.ErrQuery, machineID, processID, err)
	}
	if len(resp.Results) == 0 {
		return record.Record{}, store.ErrNotFound
	}
	return resp.Results[0].toRecord(), nil
}

func (s *Store) Create(ctx context.Context, rec record.Record) (record.Record, error) {
	if rec.Status == "" {
		rec.Status = record.StatusActive
	}
	props := map[string]any{
		propMachineID: textProp(rec.MachineID),
		propProcessID: textProp(rec.ProcessID),
		propChannel:   textProp(rec.Channel),
		propAccountID: textProp(rec.AccountID),
		propStatus:    selectProp(string(rec.Status)),
	}
	if rec.ImageRef != "" {
		// ImageRef carries "uploadID/filename" from UploadImage.
		if uploadID, filename, ok := splitImageRef(rec.ImageRef); ok {
			props[propImage] = fileProp(filename, uploadID)
		}
	}
	body := map[string]any{
		"parent":     map[string]any{"database_id": s.databaseID},
		"properties": props,
	}
	var created page
	if err := s.do(ctx, http.MethodPost, "/v1/pages", body, &created); err != nil {
		return record.Record{}, fmt.Errorf("%w: create %s/%s: %v", store.ErrWrite, rec.MachineID, rec.ProcessID, err)
	}
	rec.ID = created.ID
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, fields record.Fields) (record.Record, error) {
	props := map[string]any{}
	if fields.Channel != nil {
		props[propChannel] = textProp(*fields.Channel)
	}
	if fields.AccountID != nil {
		props[propAccountID] = textProp(*fields.AccountID)
	}
	if fields.Status != nil {
		props[propStatus] = selectProp(string(*fields.Status))
	}
	if fields.ImageRef != nil {
		if uploadID, filename, ok := splitImageRef(*fields.ImageRef); ok {
			props[propImage] = fileProp(filename, uploadID)
		}
	}
	body := map[string]any{"properties": props}
	var updated page
	if err := s.do(ctx, http.MethodPatch, "/v1/pages/"+id, body, &updated); err != nil {
		return record.Record{}, fmt.Errorf("%w: update page %s: %v", store.ErrWrite, id, err)
	}
	return updated.toRecord(), nil
}

func (s *Store) Close() error { return nil }

// UploadImage implements store.Uploader with Notion's two-step file
// upload: register the upload, then send the bytes as multipart. The
// returned ref is "uploadID/filename", consumed by Create/Update.
func (s *Store) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{"filename": filename, "content_type": "image/png"}
	if err := s.do(ctx, http.MethodPost, "/v1/file_uploads", body, &created); err != nil {
		return "", fmt.Errorf("create file upload: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/file_uploads/"+created.ID+"/send", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	s.setAuth(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send file upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("send file upload: status %d", resp.StatusCode)
	}
	s.logger.Debug("uploaded screenshot", "filename", filename, "upload_id", created.ID)
	return created.ID + "/" + filename, nil
}

func splitImageRef(ref string) (uploadID, filename string, ok bool) {
	i := strings.IndexByte(ref, '/')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

func (s *Store) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Notion-Version", notionVersion)
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.setAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
