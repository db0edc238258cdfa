package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"resitrack.org/internal/listing"
)

type listResponse[T any] struct {
	Items      []T               `json:"items"`
	TotalPages int               `json:"totalPages"`
	Page       int               `json:"page"`
	Sort       listing.SortOrder `json:"sort"`
	Search     string            `json:"search,omitempty"`
	Mode       listing.Mode      `json:"mode"`
}

// parseListQuery reads page, sort, search and the filter set of a list
// endpoint. A search shorter than minSearch runes is dropped so the request
// browses instead. reset=1 sends the caller back to the first page.
func parseListQuery[F any](q url.Values, minSearch int, parse func(url.Values) (F, error)) (listing.Query[F], error) {
	var out listing.Query[F]
	sort, err := listing.ParseSortOrder(q.Get("sort"))
	if err != nil {
		return out, err
	}
	out.Sort = sort

	out.Page = 1
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return out, listing.ErrInvalidPage
		}
		out.Page = p
	}
	if q.Get("reset") == "1" {
		out.Page = 1
	}

	if s := strings.TrimSpace(q.Get("search")); utf8.RuneCountInString(s) >= minSearch {
		out.Search = s
	}
	if out.Filters, err = parse(q); err != nil {
		return out, err
	}
	return out, nil
}

func writePage[T, F any](w http.ResponseWriter, q listing.Query[F], p listing.Page[T]) {
	mode := listing.ModeBrowsing
	if q.Search != "" {
		mode = listing.ModeSearching
	}
	writeData(w, http.StatusOK, listResponse[T]{
		Items:      nonNil(p.Items),
		TotalPages: p.TotalPages,
		Page:       q.Page,
		Sort:       q.Sort,
		Search:     q.Search,
		Mode:       mode,
	})
}

type checkRequest struct {
	Checked *bool `json:"checked"`
}

// splitResource splits "/v1/{collection}/{id}/{action}" after prefix.
func splitResource(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	}
	return "", "", false
}
