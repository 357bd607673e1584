package models

// Details is the subset of catalog metadata used to decorate list entries.
type Details struct {
	Title          string  `json:"title"`
	Overview       string  `json:"overview,omitempty"`
	PosterPath     string  `json:"posterPath,omitempty"`
	BackdropPath   string  `json:"backdropPath,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
	RuntimeMinutes int     `json:"runtimeMinutes,omitempty"`
	Year           int     `json:"year,omitempty"`
}

// Apply copies the details onto the item, keeping existing values where the
// details are empty.
func (d Details) Apply(item ContinueWatchingItem) ContinueWatchingItem {
	if d.Title != "" {
		item.Title = d.Title
	}
	if d.Overview != "" {
		item.Overview = d.Overview
	}
	if d.PosterPath != "" {
		item.PosterPath = d.PosterPath
	}
	if d.BackdropPath != "" {
		item.BackdropPath = d.BackdropPath
	}
	if d.Rating > 0 {
		item.Rating = d.Rating
	}
	if d.RuntimeMinutes > 0 {
		item.RuntimeMinutes = d.RuntimeMinutes
	}
	if d.Year > 0 {
		item.Year = d.Year
	}
	item.Hydrated = true
	return item
}
