package main

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamiequint/groundeffect/internal/mcpserver"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/mutation"
	"github.com/jamiequint/groundeffect/internal/search"
)

// registerTools declares the 20 tools SPEC_FULL.md §6 names against s,
// backed by mcps. Each handler reads its arguments from the call's raw
// argument map and maps the result onto mcps' domain methods; mcp-go only
// needs a JSON-serializable result or a CallToolResult error back.
func registerTools(s *server.MCPServer, mcps *mcpserver.Server) {
	s.AddTool(mcp.NewTool("search_mail",
		mcp.WithDescription("Search synced mail across one or more accounts by keyword and/or semantic similarity, fused by reciprocal rank."),
		mcp.WithString("query", mcp.Description("search text; empty returns the most recent matching items with no ranking")),
		mcp.WithArray("accounts", mcp.Description("account emails or aliases to search; empty searches every synced account")),
		mcp.WithString("since", mcp.Description("RFC3339 lower bound on message date")),
		mcp.WithString("until", mcp.Description("RFC3339 upper bound on message date")),
		mcp.WithString("folder", mcp.Description("restrict to one folder")),
		mcp.WithString("from_contains", mcp.Description("substring match against the From address")),
		mcp.WithBoolean("has_attachment", mcp.Description("restrict to messages with attachments")),
		mcp.WithNumber("limit", mcp.Description("maximum hits to return")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		hits, result, err := mcps.SearchMail(ctx, argString(args, "query"), search.Filter{
			Accounts:      argStrings(args, "accounts"),
			Since:         argTime(args, "since"),
			Until:         argTime(args, "until"),
			Folder:        argString(args, "folder"),
			FromContains:  argString(args, "from_contains"),
			HasAttachment: argBool(args, "has_attachment"),
			Limit:         argInt(args, "limit"),
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"hits": hits, "summary": result}), nil
	})

	s.AddTool(mcp.NewTool("search_calendar",
		mcp.WithDescription("Search synced calendar events across one or more accounts by keyword and/or semantic similarity."),
		mcp.WithString("query", mcp.Description("search text; empty returns the most recent matching events with no ranking")),
		mcp.WithArray("accounts", mcp.Description("account emails or aliases to search; empty searches every synced account")),
		mcp.WithString("since", mcp.Description("RFC3339 lower bound on event start")),
		mcp.WithString("until", mcp.Description("RFC3339 upper bound on event start")),
		mcp.WithString("calendar_id", mcp.Description("restrict to one calendar")),
		mcp.WithNumber("limit", mcp.Description("maximum hits to return")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		hits, result, err := mcps.SearchCalendar(ctx, argString(args, "query"), search.Filter{
			Accounts:   argStrings(args, "accounts"),
			Since:      argTime(args, "since"),
			Until:      argTime(args, "until"),
			CalendarID: argString(args, "calendar_id"),
			Limit:      argInt(args, "limit"),
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"hits": hits, "summary": result}), nil
	})

	s.AddTool(mcp.NewTool("get_mail",
		mcp.WithDescription("Fetch one mail item by its internal id, with full (possibly truncated) body text."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("internal mail item id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		item, err := mcps.GetMail(argInt64(args, "id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(item), nil
	})

	s.AddTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Fetch every mail item in one account's thread, oldest first."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("account email or alias")),
		mcp.WithNumber("thread_id", mcp.Required(), mcp.Description("provider thread id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		items, err := mcps.GetThread(argString(args, "account_id"), argUint64(args, "thread_id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(items), nil
	})

	s.AddTool(mcp.NewTool("get_event",
		mcp.WithDescription("Fetch one calendar event by its internal id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("internal calendar item id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		item, err := mcps.GetEvent(argInt64(args, "id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(item), nil
	})

	s.AddTool(mcp.NewTool("list_folders",
		mcp.WithDescription("List every mail folder synced for one account."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("account email or alias")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		folders, err := mcps.ListFolders(argString(args, "account_id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(folders), nil
	})

	s.AddTool(mcp.NewTool("list_calendars",
		mcp.WithDescription("List every calendar synced for one account."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("account email or alias")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		calendars, err := mcps.ListCalendars(argString(args, "account_id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(calendars), nil
	})

	s.AddTool(mcp.NewTool("list_accounts",
		mcp.WithDescription("List every configured account and its sync enablement."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		accounts, err := mcps.ListAccounts()
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(accounts), nil
	})

	s.AddTool(mcp.NewTool("get_sync_status",
		mcp.WithDescription("Report each account's last successful sync times and poisoned-message count."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := mcps.GetSyncStatus()
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(status), nil
	})

	s.AddTool(mcp.NewTool("send_mail",
		mcp.WithDescription("Compose and submit a mail message. With confirm=false, returns the rendered message without sending it."),
		mcp.WithString("from", mcp.Required(), mcp.Description("sending account email")),
		mcp.WithArray("to", mcp.Required(), mcp.Description("recipient email addresses")),
		mcp.WithArray("cc", mcp.Description("cc email addresses")),
		mcp.WithString("subject", mcp.Required()),
		mcp.WithString("body", mcp.Required()),
		mcp.WithString("reply_to_message_id", mcp.Description("RFC 5322 Message-ID to thread this message under")),
		mcp.WithBoolean("confirm", mcp.Description("set true to actually submit the message")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		raw, err := mcps.SendMail(mutation.SendMailRequest{
			From:             argString(args, "from"),
			To:               argStrings(args, "to"),
			Cc:               argStrings(args, "cc"),
			Subject:          argString(args, "subject"),
			Body:             argString(args, "body"),
			ReplyToMessageID: argString(args, "reply_to_message_id"),
		}, argBool(args, "confirm"))
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	})

	s.AddTool(mcp.NewTool("create_event",
		mcp.WithDescription("Create a calendar event. With confirm=false, returns the rendered iCalendar text without contacting the provider."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("calendar_path", mcp.Required(), mcp.Description("CalDAV collection path from list_calendars")),
		mcp.WithString("summary", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("location"),
		mcp.WithString("start", mcp.Required(), mcp.Description("RFC3339 start time")),
		mcp.WithString("end", mcp.Required(), mcp.Description("RFC3339 end time")),
		mcp.WithBoolean("all_day"),
		mcp.WithArray("attendees", mcp.Description("attendee email addresses")),
		mcp.WithBoolean("confirm", mcp.Description("set true to actually create the event")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		item, preview, err := mcps.CreateEvent(ctx, argString(args, "account_id"), argString(args, "calendar_path"), "",
			eventFieldsFromArgs(args), argBool(args, "confirm"))
		if err != nil {
			return errorResult(err), nil
		}
		if preview != nil {
			return mcp.NewToolResultText(string(preview)), nil
		}
		return jsonResult(item), nil
	})

	s.AddTool(mcp.NewTool("update_event",
		mcp.WithDescription("Update an existing calendar event. With confirm=false, returns the rendered iCalendar text without contacting the provider."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("calendar_path", mcp.Required()),
		mcp.WithString("path", mcp.Required(), mcp.Description("CalDAV object path of the event being updated")),
		mcp.WithString("etag", mcp.Required(), mcp.Description("etag the update is conditional on")),
		mcp.WithString("uid", mcp.Description("existing event UID; required to keep the same event identity")),
		mcp.WithString("summary", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("location"),
		mcp.WithString("start", mcp.Required()),
		mcp.WithString("end", mcp.Required()),
		mcp.WithBoolean("all_day"),
		mcp.WithArray("attendees"),
		mcp.WithBoolean("confirm"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		item, preview, err := mcps.UpdateEvent(ctx, argString(args, "account_id"), argString(args, "calendar_path"),
			argString(args, "path"), argString(args, "etag"), eventFieldsFromArgs(args), argBool(args, "confirm"))
		if err != nil {
			return errorResult(err), nil
		}
		if preview != nil {
			return mcp.NewToolResultText(string(preview)), nil
		}
		return jsonResult(item), nil
	})

	s.AddTool(mcp.NewTool("delete_event",
		mcp.WithDescription("Delete a calendar event."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("calendar_path", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("etag", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.DeleteEvent(ctx, argString(args, "account_id"), argString(args, "calendar_path"),
			argString(args, "path"), argString(args, "etag")); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("deleted"), nil
	})

	s.AddTool(mcp.NewTool("mark_read",
		mcp.WithDescription("Mark one mail message as read."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("folder", mcp.Required()),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("IMAP UID")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.MarkRead(ctx, argString(args, "account_id"), argString(args, "folder"),
			argUint32(args, "uid"), true); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("ok"), nil
	})

	s.AddTool(mcp.NewTool("mark_unread",
		mcp.WithDescription("Mark one mail message as unread."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("folder", mcp.Required()),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("IMAP UID")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.MarkRead(ctx, argString(args, "account_id"), argString(args, "folder"),
			argUint32(args, "uid"), false); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("ok"), nil
	})

	s.AddTool(mcp.NewTool("archive",
		mcp.WithDescription("Move one mail message to its account's archive mailbox."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("folder", mcp.Required()),
		mcp.WithNumber("uid", mcp.Required()),
		mcp.WithString("archive_mailbox", mcp.Required(), mcp.Description("destination mailbox name, from list_folders")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.Archive(ctx, argString(args, "account_id"), argString(args, "folder"),
			argUint32(args, "uid"), argString(args, "archive_mailbox")); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("ok"), nil
	})

	s.AddTool(mcp.NewTool("move_mail",
		mcp.WithDescription("Move one mail message to another mailbox."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("folder", mcp.Required()),
		mcp.WithNumber("uid", mcp.Required()),
		mcp.WithString("dest_mailbox", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.MoveMail(ctx, argString(args, "account_id"), argString(args, "folder"),
			argUint32(args, "uid"), argString(args, "dest_mailbox")); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("ok"), nil
	})

	s.AddTool(mcp.NewTool("delete_mail",
		mcp.WithDescription("Move one mail message to trash."),
		mcp.WithString("account_id", mcp.Required()),
		mcp.WithString("folder", mcp.Required()),
		mcp.WithNumber("uid", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.DeleteMail(ctx, argString(args, "account_id"), argString(args, "folder"),
			argUint32(args, "uid")); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("ok"), nil
	})

	s.AddTool(mcp.NewTool("trigger_sync",
		mcp.WithDescription("Ask the sync daemon to resync one account immediately instead of waiting for its next scheduled poll."),
		mcp.WithString("account_id", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		if err := mcps.TriggerSync(argString(args, "account_id")); err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText("sync requested"), nil
	})

	s.AddTool(mcp.NewTool("get_attachment",
		mcp.WithDescription("Download one attachment from a mail item, fetching it from the provider on demand."),
		mcp.WithNumber("mail_item_id", mcp.Required()),
		mcp.WithString("attachment_id", mcp.Required(), mcp.Description("attachment id from the mail item's attachments list")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		attachment, err := mcps.GetAttachment(ctx, argInt64(args, "mail_item_id"), argString(args, "attachment_id"))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(attachment), nil
	})
}

func eventFieldsFromArgs(args map[string]any) mutation.EventFields {
	var attendees []models.Attendee
	for _, email := range argStrings(args, "attendees") {
		attendees = append(attendees, models.Attendee{Email: email})
	}
	return mutation.EventFields{
		UID:         argString(args, "uid"),
		Summary:     argString(args, "summary"),
		Description: argString(args, "description"),
		Location:    argString(args, "location"),
		Start:       argTime(args, "start"),
		End:         argTime(args, "end"),
		AllDay:      argBool(args, "all_day"),
		Attendees:   attendees,
	}
}
