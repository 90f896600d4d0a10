package imap

import (
	"context"
	"fmt"
	"sort"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mime"
)

// fetchBatch is the number of messages fetched per UID FETCH.
const fetchBatch = 100

// List implements mailstore.Store. The server narrows candidates with
// SEARCH; ordering uses INTERNALDATE and the remaining predicates are
// checked in memory.
func (c *Client) List(ctx context.Context, folder mailstore.Folder, expr filter.Expression, opts mailstore.ListOptions) (*mailstore.Listing, error) {
	preds, err := filter.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailstore.ErrFilterRejected, err)
	}
	plan, err := planSearch(preds)
	if err != nil {
		return nil, err
	}

	mailbox := c.config.Mailbox(folder)
	listing := &mailstore.Listing{}
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		data, err := conn.UIDSearch(&plan.criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH %q: %w", mailbox, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		ordered, err := orderByDate(conn, uids, opts.Ascending)
		if err != nil {
			return err
		}

		for start := 0; start < len(ordered); start += fetchBatch {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+fetchBatch, len(ordered))
			chunk := ordered[start:end]

			bufs, err := conn.Fetch(uidSetOf(chunk), listFetchOptions()).Collect()
			if err != nil {
				return fmt.Errorf("UID FETCH %q: %w", mailbox, err)
			}
			byUID := make(map[imap.UID]*imapclient.FetchMessageBuffer, len(bufs))
			for _, b := range bufs {
				byUID[b.UID] = b
			}

			for _, uid := range chunk {
				buf := byUID[uid]
				if buf == nil {
					listing.Skipped = append(listing.Skipped, mailstore.Skip{ID: compositeID(mailbox, uid), Reason: "message vanished"})
					continue
				}
				m, err := toMessage(mailbox, folder, buf)
				if err != nil {
					listing.Skipped = append(listing.Skipped, mailstore.Skip{ID: compositeID(mailbox, uid), Reason: err.Error()})
					continue
				}
				if !filter.MatchAll(plan.refine, m.FilterFields()) {
					continue
				}
				listing.Messages = append(listing.Messages, m)
				if opts.Limit > 0 && len(listing.Messages) >= opts.Limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("imap list", "mailbox", mailbox, "returned", len(listing.Messages), "skipped", len(listing.Skipped))
	return listing, nil
}

// orderByDate fetches INTERNALDATE for uids and returns them newest first,
// or oldest first when ascending.
func orderByDate(conn *imapclient.Client, uids []imap.UID, ascending bool) ([]imap.UID, error) {
	bufs, err := conn.Fetch(uidSetOf(uids), &imap.FetchOptions{UID: true, InternalDate: true}).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH INTERNALDATE: %w", err)
	}
	sort.SliceStable(bufs, func(i, j int) bool {
		a, b := bufs[i], bufs[j]
		if a.InternalDate.Equal(b.InternalDate) {
			if ascending {
				return a.UID < b.UID
			}
			return a.UID > b.UID
		}
		if ascending {
			return a.InternalDate.Before(b.InternalDate)
		}
		return a.InternalDate.After(b.InternalDate)
	})
	out := make([]imap.UID, len(bufs))
	for i, b := range bufs {
		out[i] = b.UID
	}
	return out, nil
}

func uidSetOf(uids []imap.UID) imap.UIDSet {
	var set imap.UIDSet
	set.AddNum(uids...)
	return set
}

// Get implements mailstore.Store. It fetches the full message to extract
// the body.
func (c *Client) Get(ctx context.Context, id string) (*mailstore.Message, error) {
	mailbox, uid, err := parseCompositeID(id)
	if err != nil {
		return nil, err
	}

	var msg *mailstore.Message
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		opts := listFetchOptions()
		opts.BodySection = append(opts.BodySection, fullSection)
		bufs, err := conn.Fetch(uidSetOf([]imap.UID{uid}), opts).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH %s: %w", id, err)
		}
		if len(bufs) == 0 {
			return fmt.Errorf("get %s: %w", id, mailstore.ErrNotFound)
		}
		msg, err = toMessage(mailbox, c.config.Folder(mailbox), bufs[0])
		if err != nil {
			return err
		}
		if raw := bufs[0].FindBodySection(fullSection); len(raw) > 0 {
			parsed, err := mime.Parse(raw)
			if err != nil {
				c.logger.Warn("failed to parse message body", "id", id, "error", err)
				return nil
			}
			msg.Body = parsed.Body()
			for _, a := range parsed.Attachments {
				msg.AttachmentNames = append(msg.AttachmentNames, a.Filename)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SetRecipientDomains stores the domain set as keywords on the message.
func (c *Client) SetRecipientDomains(ctx context.Context, id string, domains []string) error {
	return c.replaceKeywords(ctx, id, isDomainKeyword, domainKeywords(domains))
}

// SetTags replaces the user keywords of the message.
func (c *Client) SetTags(ctx context.Context, id string, tags []string) error {
	want := make([]imap.Flag, len(tags))
	for i, t := range tags {
		want[i] = imap.Flag(t)
	}
	return c.replaceKeywords(ctx, id, isTagKeyword, want)
}

// replaceKeywords removes the current keywords selected by match and adds
// want.
func (c *Client) replaceKeywords(ctx context.Context, id string, match func(imap.Flag) bool, want []imap.Flag) error {
	mailbox, uid, err := parseCompositeID(id)
	if err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		set := uidSetOf([]imap.UID{uid})
		bufs, err := conn.Fetch(set, &imap.FetchOptions{UID: true, Flags: true}).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH FLAGS %s: %w", id, err)
		}
		if len(bufs) == 0 {
			return fmt.Errorf("message %s: %w", id, mailstore.ErrNotFound)
		}

		var stale []imap.Flag
		for _, f := range bufs[0].Flags {
			if match(f) {
				stale = append(stale, f)
			}
		}
		if len(stale) > 0 {
			if err := conn.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsDel, Silent: true, Flags: stale}, nil).Close(); err != nil {
				return fmt.Errorf("UID STORE -FLAGS: %w", err)
			}
		}
		if len(want) > 0 {
			if err := conn.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: want}, nil).Close(); err != nil {
				return fmt.Errorf("UID STORE +FLAGS: %w", err)
			}
		}
		return nil
	})
}
