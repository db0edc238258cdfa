package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
)

// Me is the authenticated account as the backend knows it.
type Me struct {
	Username             string `json:"username"`
	Service              string `json:"service"`
	HasCustomPermissions bool   `json:"has_custom_permissions"`
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var me Me
	err := c.into(ctx, call{name: "me", method: http.MethodGet, path: "/api/me"}, &me)
	return me, err
}

// ServicePermissions returns the default map of a service.
func (c *Client) ServicePermissions(ctx context.Context, service string) (permission.Map, error) {
	return c.permissions(ctx, "service_permissions", "/api/permissions/service/"+url.PathEscape(service))
}

// UserPermissions returns a user's own map.
func (c *Client) UserPermissions(ctx context.Context, username string) (permission.Map, error) {
	return c.permissions(ctx, "user_permissions", "/api/permissions/user/"+url.PathEscape(username))
}

func (c *Client) permissions(ctx context.Context, name, path string) (permission.Map, error) {
	raw := map[string]bool{}
	if err := c.into(ctx, call{name: name, method: http.MethodGet, path: path}, &raw); err != nil {
		return nil, err
	}
	m, unknown := permission.ParseMap(raw)
	if len(unknown) > 0 {
		c.log.Warn("ignoring unknown permission keys", zap.String("endpoint", name), zap.Strings("keys", unknown))
	}
	return m, nil
}

// Snapshot loads the account and both permission maps. The user map is
// only fetched when it applies.
func (c *Client) Snapshot(ctx context.Context) (Me, permission.Snapshot, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return Me{}, permission.Snapshot{}, err
	}
	snap := permission.Snapshot{HasCustomPermissions: me.HasCustomPermissions}
	if snap.ServiceMap, err = c.ServicePermissions(ctx, me.Service); err != nil {
		return Me{}, permission.Snapshot{}, err
	}
	if me.HasCustomPermissions {
		if snap.UserMap, err = c.UserPermissions(ctx, me.Username); err != nil {
			return Me{}, permission.Snapshot{}, err
		}
	}
	return me, snap, nil
}

func (c *Client) Locations(ctx context.Context) ([]location.Location, error) {
	data, err := c.do(ctx, call{name: "locations", method: http.MethodGet, path: "/api/locations"})
	if err != nil {
		return nil, err
	}
	page, err := decodeList[location.Location](data)
	if err != nil {
		return nil, &APIError{HTTPStatus: http.StatusOK, Message: "unexpected payload for locations"}
	}
	return page.Items, nil
}

// CreateLocation registers a room or facility.
func (c *Client) CreateLocation(ctx context.Context, l location.Location) (location.Location, error) {
	var out location.Location
	err := c.into(ctx, call{name: "create_location", method: http.MethodPost, path: "/api/locations", body: l}, &out)
	if err == nil && out.Name == "" {
		out = l
	}
	return out, err
}

// CreateFacility registers an external facility typed inline in a form.
func (c *Client) CreateFacility(ctx context.Context, name string) (location.Location, error) {
	l, err := location.NewFacility(name)
	if err != nil {
		return location.Location{}, err
	}
	return c.CreateLocation(ctx, l)
}

func (c *Client) DeleteLocation(ctx context.Context, id string) error {
	return c.into(ctx, call{name: "delete_location", method: http.MethodDelete, path: "/api/locations/" + url.PathEscape(id)}, nil)
}

func listQuery[F interface{ Values() url.Values }](q listing.Query[F]) url.Values {
	v := q.Filters.Values()
	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	sort := q.Sort
	if sort == "" {
		sort = listing.SortDesc
	}
	v.Set("sort", string(sort))
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

func listPage[T any](ctx context.Context, c *Client, name, path string, query url.Values) (listing.Page[T], error) {
	data, err := c.do(ctx, call{name: name, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return listing.Page[T]{}, err
	}
	page, err := decodeList[T](data)
	if err != nil {
		return listing.Page[T]{}, &APIError{HTTPStatus: http.StatusOK, Message: "unexpected payload for " + name}
	}
	return page, nil
}

func (c *Client) ListMovements(ctx context.Context, q listing.Query[records.MovementFilter]) (listing.Page[movement.Movement], error) {
	return listPage[movement.Movement](ctx, c, "list_movements", "/api/movements", listQuery(q))
}

func (c *Client) CreateMovement(ctx context.Context, m movement.Movement) (movement.Movement, error) {
	var out movement.Movement
	err := c.into(ctx, call{name: "create_movement", method: http.MethodPost, path: "/api/movements", body: m}, &out)
	if err == nil && out.ID == "" {
		out = m
	}
	return out, err
}

type checkBody struct {
	Checked bool `json:"checked"`
}

func (c *Client) SetMovementChecked(ctx context.Context, id string, checked bool) error {
	return c.into(ctx, call{
		name:   "check_movement",
		method: http.MethodPatch,
		path:   "/api/movements/" + url.PathEscape(id) + "/check",
		body:   checkBody{Checked: checked},
	}, nil)
}

func (c *Client) DeleteMovement(ctx context.Context, id string) error {
	return c.into(ctx, call{name: "delete_movement", method: http.MethodDelete, path: "/api/movements/" + url.PathEscape(id)}, nil)
}

// ArchiveMovements moves movements older than the given number of days out
// of the active list and returns how many were archived.
func (c *Client) ArchiveMovements(ctx context.Context, olderThanDays int) (int, error) {
	var out struct {
		Archived int `json:"archived"`
	}
	err := c.into(ctx, call{
		name:   "archive_movements",
		method: http.MethodPost,
		path:   "/api/movements/archive",
		body:   map[string]int{"older_than_days": olderThanDays},
	}, &out)
	return out.Archived, err
}

func (c *Client) ListDeaths(ctx context.Context, q listing.Query[records.DeathFilter]) (listing.Page[records.Death], error) {
	return listPage[records.Death](ctx, c, "list_deaths", "/api/deaths", listQuery(q))
}

func (c *Client) CreateDeath(ctx context.Context, d records.Death) (records.Death, error) {
	var out records.Death
	err := c.into(ctx, call{name: "create_death", method: http.MethodPost, path: "/api/deaths", body: d}, &out)
	if err == nil && out.ID == "" {
		out = d
	}
	return out, err
}

func (c *Client) SetDeathChecked(ctx context.Context, id string, checked bool) error {
	return c.into(ctx, call{
		name:   "check_death",
		method: http.MethodPatch,
		path:   "/api/deaths/" + url.PathEscape(id) + "/check",
		body:   checkBody{Checked: checked},
	}, nil)
}

func (c *Client) DeleteDeath(ctx context.Context, id string) error {
	return c.into(ctx, call{name: "delete_death", method: http.MethodDelete, path: "/api/deaths/" + url.PathEscape(id)}, nil)
}

func (c *Client) ListHistory(ctx context.Context, q listing.Query[records.HistoryFilter]) (listing.Page[records.HistoryEntry], error) {
	return listPage[records.HistoryEntry](ctx, c, "list_history", "/api/history", listQuery(q))
}

// NoMovementDays lists the flags of a service; empty means all services.
func (c *Client) NoMovementDays(ctx context.Context, service string) ([]records.NoMovementDay, error) {
	q := url.Values{}
	if service != "" {
		q.Set("service", service)
	}
	page, err := listPage[records.NoMovementDay](ctx, c, "no_movement_days", "/api/no-movement-days", q)
	return page.Items, err
}

func (c *Client) DeclareNoMovementDay(ctx context.Context, day records.NoMovementDay) (records.NoMovementDay, error) {
	var out records.NoMovementDay
	err := c.into(ctx, call{name: "declare_no_movement_day", method: http.MethodPost, path: "/api/no-movement-days", body: day}, &out)
	if err == nil && out.Date == "" {
		out = day
	}
	return out, err
}

func (c *Client) DeleteNoMovementDay(ctx context.Context, date, service string) error {
	return c.into(ctx, call{
		name:   "delete_no_movement_day",
		method: http.MethodDelete,
		path:   "/api/no-movement-days",
		query:  url.Values{"date": {date}, "service": {service}},
	}, nil)
}
