// Package mcp exposes mailtrail operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/mailtrail/internal/service"
)

// Tool name constants.
const (
	ToolSearchEmails       = "search_emails"
	ToolGetEmailByID       = "get_email_by_id"
	ToolSearchCorrespond   = "search_correspondence"
	ToolGetEmailThread     = "get_email_thread"
	ToolGetThreadLocations = "get_thread_locations"
	ToolReadCacheFile      = "read_cache_file"
	ToolMarkCacheProcessed = "mark_cache_processed"
	ToolGetCacheStatus     = "get_cache_status"
	ToolResetCacheFlags    = "reset_cache_flags"
	ToolListCacheFiles     = "list_cache_files"
	ToolBackfillDomains    = "backfill_recipient_domains"
	ToolTriageEmail        = "triage_email"
	ToolClearTriage        = "clear_triage_status"
	ToolBatchTriage        = "batch_triage"
	ToolArchiveDomain      = "batch_archive_domain"
	ToolGetDomainCounts    = "get_domain_counts"
	ToolGetPendingEmails   = "get_pending_emails"
)

// EndpointPath is the path HTTPHandler serves on.
const EndpointPath = "/mcp"

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+"). Check results_truncated in the response to see whether more exist."),
	)
}

func withDays() mcp.ToolOption {
	return mcp.WithNumber("days",
		mcp.Description("Days to look back when date_from is not given (default 30)"),
	)
}

func withDateFrom() mcp.ToolOption {
	return mcp.WithString("date_from",
		mcp.Description("Start date, inclusive (YYYY-MM-DD)"),
	)
}

func withDateTo() mcp.ToolOption {
	return mcp.WithString("date_to",
		mcp.Description("End date, inclusive of the whole day (YYYY-MM-DD)"),
	)
}

func withOutputOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("output_file",
			mcp.Description("Write the full result to this path instead of returning it"),
		),
		mcp.WithBoolean("force_inline",
			mcp.Description("Return every result inline even above the auto-file threshold"),
		),
		mcp.WithNumber("auto_file_threshold",
			mcp.Description("Result count above which results are written to a cache file (default 20)"),
		),
	}
}

func withFilePath() mcp.ToolOption {
	return mcp.WithString("file_path",
		mcp.Required(),
		mcp.Description("Cache file path, as returned in full_data_file, or a name inside the cache directory"),
	)
}

func withEmailID() mcp.ToolOption {
	return mcp.WithString("email_id",
		mcp.Required(),
		mcp.Description("Store id or internet message id (<...@...>) of the email"),
	)
}

// NewServer creates an MCP server with every mailtrail tool registered.
func NewServer(svc *service.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"mailtrail",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{svc: svc}

	s.AddTool(searchEmailsTool(), h.searchEmails)
	s.AddTool(getEmailByIDTool(), h.getEmailByID)
	s.AddTool(searchCorrespondenceTool(), h.searchCorrespondence)
	s.AddTool(getEmailThreadTool(), h.getEmailThread)
	s.AddTool(getThreadLocationsTool(), h.getThreadLocations)
	s.AddTool(readCacheFileTool(), h.readCacheFile)
	s.AddTool(markCacheProcessedTool(), h.markCacheProcessed)
	s.AddTool(getCacheStatusTool(), h.getCacheStatus)
	s.AddTool(resetCacheFlagsTool(), h.resetCacheFlags)
	s.AddTool(listCacheFilesTool(), h.listCacheFiles)
	s.AddTool(backfillTool(), h.backfill)
	s.AddTool(triageEmailTool(), h.triageEmail)
	s.AddTool(clearTriageTool(), h.clearTriage)
	s.AddTool(batchTriageTool(), h.batchTriage)
	s.AddTool(archiveDomainTool(), h.archiveDomain)
	s.AddTool(getDomainCountsTool(), h.getDomainCounts)
	s.AddTool(getPendingEmailsTool(), h.getPendingEmails)
	return s
}

// Serve serves the mailtrail tools over stdio. It blocks until stdin is
// closed or the context is cancelled.
func Serve(ctx context.Context, svc *service.Service) error {
	stdio := server.NewStdioServer(NewServer(svc))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP handler for the mailtrail tools
// mounted at /mcp.
func HTTPHandler(svc *service.Service) http.Handler {
	return server.NewStreamableHTTPServer(NewServer(svc),
		server.WithEndpointPath(EndpointPath),
	)
}

func searchEmailsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Search one mail folder. Combines structured filters with an optional operator query (from:, to:, subject:, body:, in:, after:, before:, newer_than:). Large results are auto-filed to a cache file; page through it with read_cache_file."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query", mcp.Description("Operator query, e.g. 'from:acme.com subject:invoice after:2024-01-01'")),
		mcp.WithString("sender_domain", mcp.Description("Sender domain, e.g. acme.com")),
		mcp.WithString("sender_email", mcp.Description("Sender address")),
		mcp.WithString("recipient_domain", mcp.Description("Recipient domain (uses the backfilled recipient-domain field)")),
		mcp.WithString("recipient_email", mcp.Description("Recipient address")),
		mcp.WithString("subject_contains", mcp.Description("Subject substring")),
		mcp.WithString("body_contains", mcp.Description("Body substring")),
		withDateFrom(),
		withDateTo(),
		withDays(),
		mcp.WithString("folder",
			mcp.Description("Folder to search (default inbox)"),
			mcp.Enum("inbox", "sent", "filed"),
		),
		withLimit("50"),
	}
	return mcp.NewTool(ToolSearchEmails, append(opts, withOutputOptions()...)...)
}

func getEmailByIDTool() mcp.Tool {
	return mcp.NewTool(ToolGetEmailByID,
		mcp.WithDescription("Get full email details by store id or internet message id."),
		mcp.WithReadOnlyHintAnnotation(true),
		withEmailID(),
		mcp.WithBoolean("include_body", mcp.Description("Include the body (default true)")),
		mcp.WithBoolean("include_attachments", mcp.Description("Include attachment names (default true)")),
		mcp.WithNumber("max_body_length", mcp.Description("Truncate the body to this many characters")),
	)
}

func searchCorrespondenceTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Get all correspondence with an entity: inbound mail from its domains and contacts, and outbound mail to its domains, merged and de-duplicated newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("entity", mcp.Description("Registered entity name from the configuration")),
		mcp.WithArray("domains", mcp.Description("Additional domains"), mcp.WithStringItems()),
		mcp.WithArray("contacts", mcp.Description("Additional contact addresses"), mcp.WithStringItems()),
		withDateFrom(),
		withDateTo(),
		withDays(),
		withLimit("50"),
	}
	return mcp.NewTool(ToolSearchCorrespond, append(opts, withOutputOptions()...)...)
}

func getEmailThreadTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Reconstruct the conversation containing an email across inbox, sent and filed folders, oldest first, with participants and date range."),
		mcp.WithReadOnlyHintAnnotation(true),
		withEmailID(),
		mcp.WithBoolean("include_sent", mcp.Description("Search the sent folder (default true)")),
		mcp.WithBoolean("include_filed", mcp.Description("Search the filed folder (default false)")),
		withLimit("50"),
	}
	return mcp.NewTool(ToolGetEmailThread, append(opts, withOutputOptions()...)...)
}

func getThreadLocationsTool() mcp.Tool {
	return mcp.NewTool(ToolGetThreadLocations,
		mcp.WithDescription("List where each message of an email's conversation lives (id, folder, direction, received) without loading content."),
		mcp.WithReadOnlyHintAnnotation(true),
		withEmailID(),
		withLimit("50"),
	)
}

func readCacheFileTool() mcp.Tool {
	return mcp.NewTool(ToolReadCacheFile,
		mcp.WithDescription("Read a page of an auto-filed result set. Returned items are marked retrieved, so repeated calls walk the file."),
		withFilePath(),
		mcp.WithNumber("start", mcp.Description("Skip this many matching items (default 0)")),
		mcp.WithNumber("limit", mcp.Description("Items per page (default 20)")),
		mcp.WithString("filter_field", mcp.Description("Field to filter on, e.g. domain or sender")),
		mcp.WithString("filter_value", mcp.Description("Case-insensitive substring the field must contain")),
		mcp.WithArray("fields", mcp.Description("Only return these fields (id is always kept)"), mcp.WithStringItems()),
		mcp.WithBoolean("include_retrieved", mcp.Description("Include items already retrieved")),
		mcp.WithBoolean("unprocessed_only", mcp.Description("Only items retrieved but not yet processed")),
	)
}

func markCacheProcessedTool() mcp.Tool {
	return mcp.NewTool(ToolMarkCacheProcessed,
		mcp.WithDescription("Mark cache items as processed after acting on them."),
		withFilePath(),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Item ids to mark"), mcp.WithStringItems()),
	)
}

func getCacheStatusTool() mcp.Tool {
	return mcp.NewTool(ToolGetCacheStatus,
		mcp.WithDescription("Get retrieval and processing progress for a cache file."),
		mcp.WithReadOnlyHintAnnotation(true),
		withFilePath(),
	)
}

func resetCacheFlagsTool() mcp.Tool {
	return mcp.NewTool(ToolResetCacheFlags,
		mcp.WithDescription("Clear retrieved and/or processed flags so a cache file can be walked again. Clearing retrieved also clears processed."),
		withFilePath(),
		mcp.WithBoolean("reset_retrieved", mcp.Description("Clear retrieved flags (default true)")),
		mcp.WithBoolean("reset_processed", mcp.Description("Clear processed flags (default true)")),
	)
}

func listCacheFilesTool() mcp.Tool {
	return mcp.NewTool(ToolListCacheFiles,
		mcp.WithDescription("List cache files modified recently, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("days", mcp.Description("Look-back period in days (default 7)")),
	)
}

func backfillTool() mcp.Tool {
	return mcp.NewTool(ToolBackfillDomains,
		mcp.WithDescription("Compute and store the recipient-domain field on recent sent messages that lack it."),
	)
}

func triageEmailTool() mcp.Tool {
	return mcp.NewTool(ToolTriageEmail,
		mcp.WithDescription("Set the triage status of an email, replacing any previous status."),
		withEmailID(),
		withStatus(),
	)
}

func withStatus() mcp.ToolOption {
	return mcp.WithString("status",
		mcp.Required(),
		mcp.Description("Triage status"),
		mcp.Enum(service.TriageStatuses...),
	)
}

func clearTriageTool() mcp.Tool {
	return mcp.NewTool(ToolClearTriage,
		mcp.WithDescription("Remove the triage status of an email so it is pending again."),
		withEmailID(),
	)
}

func batchTriageTool() mcp.Tool {
	return mcp.NewTool(ToolBatchTriage,
		mcp.WithDescription("Set the same triage status on several emails. Failures are counted, not fatal."),
		mcp.WithArray("email_ids",
			mcp.Required(),
			mcp.Description("Store ids of the emails"),
			mcp.WithStringItems(),
		),
		withStatus(),
	)
}

func archiveDomainTool() mcp.Tool {
	return mcp.NewTool(ToolArchiveDomain,
		mcp.WithDescription("Archive every untriaged inbox email from one sender domain, e.g. a newsletter sender."),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Sender domain, e.g. news.example.com")),
		withDays(),
	)
}

func getDomainCountsTool() mcp.Tool {
	return mcp.NewTool(ToolGetDomainCounts,
		mcp.WithDescription("Summarize untriaged inbox mail by sender domain with counts and sample subjects. Use get_pending_emails to list one domain."),
		mcp.WithReadOnlyHintAnnotation(true),
		withDateFrom(),
		withDays(),
		mcp.WithNumber("limit", mcp.Description("Newest inbox messages to scan (default 200). Check scan_truncated in the response.")),
	)
}

func getPendingEmailsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List untriaged inbox emails from one sender domain, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Sender domain")),
		withDateFrom(),
		withDays(),
		withLimit("50"),
	}
	return mcp.NewTool(ToolGetPendingEmails, append(opts, withOutputOptions()...)...)
}
