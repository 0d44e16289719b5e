package graph

import (
	"context"
	"errors"
)

// ErrNoMorePages is returned by Next once the server stopped sending links.
var ErrNoMorePages = errors.New("graph: no more pages")

// Pager walks an OData collection one page per network call, following
// @odata.nextLink until the server omits it. It cannot be resumed; start a
// new pager to re-read the collection.
type Pager[T any] struct {
	c    *Client
	next string
	n    int
}

func newPager[T any](c *Client, first string) *Pager[T] {
	return &Pager[T]{c: c, next: first}
}

// HasNext reports whether another page can be fetched.
func (p *Pager[T]) HasNext() bool { return p.next != "" }

// Pages returns how many pages have been fetched.
func (p *Pager[T]) Pages() int { return p.n }

// Next fetches the next page. On error the pager stays on the failed page.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if !p.HasNext() {
		return nil, ErrNoMorePages
	}
	var pg page[T]
	if err := p.c.getJSON(ctx, p.next, &pg); err != nil {
		return nil, err
	}
	p.next = pg.NextLink
	p.n++
	return pg.Value, nil
}
