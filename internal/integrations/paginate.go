package integrations

import (
	"context"
	"fmt"
)

// MaxPages stops runaway pagination against a provider that never returns a
// short page.
const MaxPages = 500

// Paginate calls fetch with page numbers starting at 1 until a page shorter
// than pageSize comes back.
func Paginate[T any](ctx context.Context, pageSize int, fetch func(ctx context.Context, page int) ([]T, error)) ([]T, error) {
	var all []T
	for page := 1; page <= MaxPages; page++ {
		items, err := fetch(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("pagination exceeded %d pages", MaxPages)
}
