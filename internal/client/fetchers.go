package client

import (
	"resitrack.org/internal/listing"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/records"
)

// MovementFetcher feeds a listing controller from the backend.
func (c *Client) MovementFetcher() listing.Fetcher[movement.Movement, records.MovementFilter] {
	return listing.FetcherFunc[movement.Movement, records.MovementFilter](c.ListMovements)
}

func (c *Client) DeathFetcher() listing.Fetcher[records.Death, records.DeathFilter] {
	return listing.FetcherFunc[records.Death, records.DeathFilter](c.ListDeaths)
}

func (c *Client) HistoryFetcher() listing.Fetcher[records.HistoryEntry, records.HistoryFilter] {
	return listing.FetcherFunc[records.HistoryEntry, records.HistoryFilter](c.ListHistory)
}
