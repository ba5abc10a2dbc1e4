package source

// FolderRole is the special-use role of a folder.
type FolderRole string

const (
	RoleNone    FolderRole = ""
	RoleInbox   FolderRole = "inbox"
	RoleSent    FolderRole = "sent"
	RoleTrash   FolderRole = "trash"
	RoleDrafts  FolderRole = "drafts"
	RoleJunk    FolderRole = "junk"
	RoleArchive FolderRole = "archive"
)

// Folder is a node in the mailbox folder tree.
type Folder struct {
	Path     string
	Name     string
	Role     FolderRole
	Children []*Folder

	// NoSelect marks container folders that hold no messages.
	NoSelect bool
}

// ExcludePolicy decides whether a folder and its whole subtree are skipped.
type ExcludePolicy func(f *Folder) bool

// ExcludeNothing includes every folder.
func ExcludeNothing(*Folder) bool { return false }

// ExcludeRoles returns a policy that prunes subtrees rooted at a folder
// with one of the given roles.
func ExcludeRoles(roles ...FolderRole) ExcludePolicy {
	set := make(map[FolderRole]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return func(f *Folder) bool {
		return f.Role != RoleNone && set[f.Role]
	}
}

// TrashPolicy returns the exclusion policy for reply scans.
func TrashPolicy(includeTrash bool) ExcludePolicy {
	if includeTrash {
		return ExcludeNothing
	}
	return ExcludeRoles(RoleTrash)
}

// Walk returns the selectable folders of the tree in depth-first order,
// pruning every subtree whose root the policy excludes.
func Walk(roots []*Folder, exclude ExcludePolicy) []*Folder {
	if exclude == nil {
		exclude = ExcludeNothing
	}

	var out []*Folder
	var visit func(f *Folder)
	visit = func(f *Folder) {
		if f == nil || exclude(f) {
			return
		}
		if !f.NoSelect {
			out = append(out, f)
		}
		for _, child := range f.Children {
			visit(child)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	return out
}

// ExcludedPaths returns the paths of every folder inside an excluded
// subtree, for checking items whose folder is known only by path.
func ExcludedPaths(roots []*Folder, exclude ExcludePolicy) map[string]bool {
	out := make(map[string]bool)
	if exclude == nil {
		return out
	}

	var mark func(f *Folder, excluded bool)
	mark = func(f *Folder, excluded bool) {
		if f == nil {
			return
		}
		excluded = excluded || exclude(f)
		if excluded {
			out[f.Path] = true
		}
		for _, child := range f.Children {
			mark(child, excluded)
		}
	}
	for _, root := range roots {
		mark(root, false)
	}
	return out
}

// FindRole returns the first folder with the given role, or nil.
func FindRole(roots []*Folder, role FolderRole) *Folder {
	for _, f := range Walk(roots, ExcludeNothing) {
		if f.Role == role {
			return f
		}
	}
	return nil
}
