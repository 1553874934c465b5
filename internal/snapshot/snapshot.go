// Package snapshot renders the live domain tree as text.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/namegraph/internal/entity"
)

// Source is the read side of the store the tree is built from.
type Source interface {
	Find(ctx context.Context, kind entity.Kind, id string) (entity.Row, error)
	Children(ctx context.Context, parentID string) ([]entity.Domain, error)
}

// Tree renders the subtree under rootID, one domain per line, children
// indented two spaces below their parent in name order. Each line shows the
// name (or [labelhash] when the label is unknown), the owner and the live
// subdomain count, then "resolver" and "migrated" markers when they apply.
func Tree(ctx context.Context, src Source, rootID string) (string, error) {
	var b strings.Builder
	if err := Write(ctx, &b, src, rootID); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Write is Tree to an io.Writer.
func Write(ctx context.Context, w io.Writer, src Source, rootID string) error {
	row, err := src.Find(ctx, entity.KindDomain, rootID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("domain %s not found", rootID)
	}
	return walk(ctx, w, src, row.(entity.Domain), 0)
}

func walk(ctx context.Context, w io.Writer, src Source, d entity.Domain, depth int) error {
	if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), line(d)); err != nil {
		return err
	}
	children, err := src.Children(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := walk(ctx, w, src, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func line(d entity.Domain) string {
	var b strings.Builder
	b.WriteString(label(d))
	fmt.Fprintf(&b, " owner=%s subdomains=%d", d.OwnerID, d.SubdomainCount)
	if d.ResolverID != nil {
		b.WriteString(" resolver")
	}
	if d.IsMigrated {
		b.WriteString(" migrated")
	}
	return b.String()
}

func label(d entity.Domain) string {
	switch {
	case d.Name != nil:
		return *d.Name
	case d.LabelHash != nil:
		return "[" + *d.LabelHash + "]"
	case d.ParentID == nil:
		return "."
	}
	return "[" + d.ID + "]"
}
