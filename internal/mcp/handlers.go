package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/service"
)

type handlers struct {
	svc *service.Service
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key].(bool)
	if !ok {
		return def
	}
	return v
}

// intArg extracts an optional non-negative integer. JSON numbers arrive as
// float64.
func intArg(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, apperr.Invalid(key, "must be a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
		return 0, apperr.Invalid(key, "must be a non-negative integer")
	}
	return int(v), nil
}

// dateArg extracts an optional date (YYYY-MM-DD).
func dateArg(args map[string]any, key string) (*time.Time, error) {
	return filter.ParseDate(key, stringArg(args, key))
}

// stringsArg accepts a JSON array of strings or a comma-separated string.
func stringsArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			} else if f, ok := e.(float64); ok {
				out = append(out, fmt.Sprint(f))
			}
		}
	case []string:
		out = v
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func outputArg(args map[string]any) (service.Output, error) {
	threshold, err := intArg(args, "auto_file_threshold")
	if err != nil {
		return service.Output{}, err
	}
	return service.Output{
		ForceInline: boolArg(args, "force_inline", false),
		OutputFile:  stringArg(args, "output_file"),
		Threshold:   threshold,
	}, nil
}

func (h *handlers) searchEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	sr := service.SearchRequest{
		Query: stringArg(args, "query"),
		Criteria: filter.Criteria{
			SenderDomain:     stringArg(args, "sender_domain"),
			SenderAddress:    stringArg(args, "sender_email"),
			RecipientDomain:  stringArg(args, "recipient_domain"),
			RecipientAddress: stringArg(args, "recipient_email"),
			Subject:          stringArg(args, "subject_contains"),
			Body:             stringArg(args, "body_contains"),
		},
	}
	var err error
	if sr.Criteria.DateFrom, err = dateArg(args, "date_from"); err != nil {
		return errorResult(err), nil
	}
	if sr.Criteria.DateTo, err = dateArg(args, "date_to"); err != nil {
		return errorResult(err), nil
	}
	if f := stringArg(args, "folder"); f != "" {
		if sr.Folder, err = mailstore.ParseFolder(f); err != nil {
			return errorResult(err), nil
		}
	}
	if sr.Days, err = intArg(args, "days"); err != nil {
		return errorResult(err), nil
	}
	if sr.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}
	if sr.Output, err = outputArg(args); err != nil {
		return errorResult(err), nil
	}

	env, err := h.svc.SearchEmails(ctx, sr)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(env)
}

func (h *handlers) getEmailByID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	maxLen, err := intArg(args, "max_body_length")
	if err != nil {
		return errorResult(err), nil
	}
	d, err := h.svc.GetEmail(ctx, stringArg(args, "email_id"), service.GetOptions{
		IncludeBody:        boolArg(args, "include_body", true),
		IncludeAttachments: boolArg(args, "include_attachments", true),
		MaxBodyLength:      maxLen,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(d)
}

func (h *handlers) searchCorrespondence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	cr := service.CorrespondenceRequest{
		Entity:   stringArg(args, "entity"),
		Domains:  stringsArg(args, "domains"),
		Contacts: stringsArg(args, "contacts"),
	}
	var err error
	if cr.DateFrom, err = dateArg(args, "date_from"); err != nil {
		return errorResult(err), nil
	}
	if cr.DateTo, err = dateArg(args, "date_to"); err != nil {
		return errorResult(err), nil
	}
	if cr.Days, err = intArg(args, "days"); err != nil {
		return errorResult(err), nil
	}
	if cr.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}
	if cr.Output, err = outputArg(args); err != nil {
		return errorResult(err), nil
	}

	env, err := h.svc.Correspondence(ctx, cr)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(env)
}

func (h *handlers) getEmailThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	tr := service.ThreadRequest{
		IncludeSent:  boolArg(args, "include_sent", true),
		IncludeFiled: boolArg(args, "include_filed", false),
	}
	var err error
	if tr.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}
	if tr.Output, err = outputArg(args); err != nil {
		return errorResult(err), nil
	}

	env, err := h.svc.Thread(ctx, stringArg(args, "email_id"), tr)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(env)
}

func (h *handlers) getThreadLocations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	limit, err := intArg(args, "limit")
	if err != nil {
		return errorResult(err), nil
	}
	locs, err := h.svc.ThreadLocations(ctx, stringArg(args, "email_id"), service.ThreadRequest{
		IncludeSent:  true,
		IncludeFiled: true,
		Limit:        limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(locs)
}

func (h *handlers) readCacheFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	path := stringArg(args, "file_path")
	if path == "" {
		return errorResult(apperr.Invalid("file_path", "is required")), nil
	}
	opts := resultcache.ReadOptions{
		FilterField: stringArg(args, "filter_field"),
		FilterValue: stringArg(args, "filter_value"),
		Fields:      stringsArg(args, "fields"),
		Mode:        resultcache.ModeUnretrieved,
	}
	var err error
	if opts.Start, err = intArg(args, "start"); err != nil {
		return errorResult(err), nil
	}
	if opts.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}
	switch {
	case boolArg(args, "unprocessed_only", false):
		opts.Mode = resultcache.ModeUnprocessed
	case boolArg(args, "include_retrieved", false):
		opts.Mode = resultcache.ModeIncludeRetrieved
	}

	page, err := h.svc.Cache().Read(path, opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(page)
}

func (h *handlers) markCacheProcessed(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	path := stringArg(args, "file_path")
	if path == "" {
		return errorResult(apperr.Invalid("file_path", "is required")), nil
	}
	ids := stringsArg(args, "ids")
	if len(ids) == 0 {
		return errorResult(apperr.Invalid("ids", "at least one id is required")), nil
	}
	res, err := h.svc.Cache().MarkProcessed(path, ids)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) getCacheStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := stringArg(req.GetArguments(), "file_path")
	if path == "" {
		return errorResult(apperr.Invalid("file_path", "is required")), nil
	}
	st, err := h.svc.Cache().Status(path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(st)
}

func (h *handlers) resetCacheFlags(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	path := stringArg(args, "file_path")
	if path == "" {
		return errorResult(apperr.Invalid("file_path", "is required")), nil
	}
	res, err := h.svc.Cache().Reset(path,
		boolArg(args, "reset_retrieved", true),
		boolArg(args, "reset_processed", true),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) listCacheFiles(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days, err := intArg(req.GetArguments(), "days")
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.svc.Cache().List(days)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) backfill(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.svc.Backfill(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func (h *handlers) triageEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	res, err := h.svc.Triage(ctx, stringArg(args, "email_id"), stringArg(args, "status"))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) clearTriage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.ClearTriage(ctx, stringArg(req.GetArguments(), "email_id"))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) batchTriage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	res, err := h.svc.BatchTriage(ctx, stringsArg(args, "email_ids"), stringArg(args, "status"))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) archiveDomain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	days, err := intArg(args, "days")
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.svc.ArchiveDomain(ctx, stringArg(args, "domain"), days)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) getDomainCounts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var pr service.PendingRequest
	var err error
	if pr.DateFrom, err = dateArg(args, "date_from"); err != nil {
		return errorResult(err), nil
	}
	if pr.Days, err = intArg(args, "days"); err != nil {
		return errorResult(err), nil
	}
	if pr.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}

	res, err := h.svc.Pending(ctx, pr)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) getPendingEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	pr := service.PendingEmailsRequest{Domain: stringArg(args, "domain")}
	var err error
	if pr.DateFrom, err = dateArg(args, "date_from"); err != nil {
		return errorResult(err), nil
	}
	if pr.Days, err = intArg(args, "days"); err != nil {
		return errorResult(err), nil
	}
	if pr.Limit, err = intArg(args, "limit"); err != nil {
		return errorResult(err), nil
	}
	if pr.Output, err = outputArg(args); err != nil {
		return errorResult(err), nil
	}

	env, err := h.svc.PendingEmails(ctx, pr)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(env)
}

// errorResult renders err as a structured tool error.
func errorResult(err error) *mcp.CallToolResult {
	data, mErr := json.Marshal(struct {
		Error     string      `json:"error"`
		ErrorKind apperr.Kind `json:"error_kind"`
	}{err.Error(), apperr.KindOf(err)})
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
