package email

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mail-followup/internal/source"
)

// fallbackRoles maps well-known folder names to roles for servers that do
// not advertise special-use attributes.
var fallbackRoles = map[string]source.FolderRole{
	"inbox":            source.RoleInbox,
	"sent":             source.RoleSent,
	"sent items":       source.RoleSent,
	"sent messages":    source.RoleSent,
	"trash":            source.RoleTrash,
	"deleted items":    source.RoleTrash,
	"deleted messages": source.RoleTrash,
	"drafts":           source.RoleDrafts,
	"junk":             source.RoleJunk,
	"spam":             source.RoleJunk,
	"archive":          source.RoleArchive,
}

// roleOf derives a folder role from LIST attributes, falling back to the
// folder's leaf name.
func roleOf(name string, attrs []imap.MailboxAttr) source.FolderRole {
	for _, attr := range attrs {
		switch attr {
		case imap.MailboxAttrSent:
			return source.RoleSent
		case imap.MailboxAttrTrash:
			return source.RoleTrash
		case imap.MailboxAttrDrafts:
			return source.RoleDrafts
		case imap.MailboxAttrJunk:
			return source.RoleJunk
		case imap.MailboxAttrArchive:
			return source.RoleArchive
		}
	}
	return fallbackRoles[strings.ToLower(name)]
}

// buildTree turns a flat LIST response into a folder tree. Folders whose
// parent was not listed become roots.
func buildTree(list []*imap.ListData) []*source.Folder {
	sorted := make([]*imap.ListData, 0, len(list))
	for _, d := range list {
		if d != nil && d.Mailbox != "" {
			sorted = append(sorted, d)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Mailbox < sorted[j].Mailbox
	})

	byPath := make(map[string]*source.Folder, len(sorted))
	var roots []*source.Folder

	for _, d := range sorted {
		leaf, parent := d.Mailbox, ""
		if d.Delim != 0 {
			if idx := strings.LastIndex(d.Mailbox, string(d.Delim)); idx >= 0 {
				parent, leaf = d.Mailbox[:idx], d.Mailbox[idx+1:]
			}
		}

		f := &source.Folder{
			Path: d.Mailbox,
			Name: leaf,
			Role: roleOf(leaf, d.Attrs),
		}
		if strings.EqualFold(d.Mailbox, "INBOX") {
			f.Role = source.RoleInbox
		}
		for _, attr := range d.Attrs {
			if attr == imap.MailboxAttrNoSelect ||
				attr == imap.MailboxAttrNonExistent {
				f.NoSelect = true
			}
		}
		byPath[d.Mailbox] = f

		if p, ok := byPath[parent]; ok && parent != "" {
			p.Children = append(p.Children, f)
			continue
		}
		roots = append(roots, f)
	}

	return roots
}
