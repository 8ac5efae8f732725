// Music catalog response types, following the Web API object model at
// https://developer.spotify.com/documentation/web-api/reference/
package catalog

// Image is an artwork resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ExternalIDs carries identifiers shared across catalogs.
type ExternalIDs struct {
	ISRC string `json:"isrc,omitempty"`
}

// Followers is the follower count of an artist, playlist or user.
type Followers struct {
	Total int `json:"total"`
}

// Artist is a catalog artist.
type Artist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Genres    []string  `json:"genres,omitempty"`
	Images    []Image   `json:"images,omitempty"`
	Followers Followers `json:"followers"`
	URI       string    `json:"uri"`
}

// Album is a catalog album.
type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []Artist `json:"artists"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	Images      []Image  `json:"images,omitempty"`
	URI         string   `json:"uri"`
}

// Track is a catalog track.
type Track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Artists     []Artist    `json:"artists"`
	Album       Album       `json:"album"`
	DurationMS  int         `json:"duration_ms"`
	Explicit    bool        `json:"explicit"`
	ExternalIDs ExternalIDs `json:"external_ids"`
	Popularity  int         `json:"popularity"`
	URI         string      `json:"uri"`
}

// Owner is the user owning a playlist.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PlaylistTrack is a track within a playlist.
type PlaylistTrack struct {
	AddedAt string `json:"added_at"`
	Track   Track  `json:"track"`
}

// PlaylistTracks is the first page of a playlist's tracks.
type PlaylistTracks struct {
	Total int             `json:"total"`
	Items []PlaylistTrack `json:"items"`
}

// Playlist is a user playlist.
type Playlist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Owner       Owner          `json:"owner"`
	Public      bool           `json:"public"`
	Tracks      PlaylistTracks `json:"tracks"`
	Images      []Image        `json:"images,omitempty"`
	URI         string         `json:"uri"`
}

// User is the profile of the authenticated user.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Country     string    `json:"country,omitempty"`
	Product     string    `json:"product,omitempty"` // premium, free, etc.
	Followers   Followers `json:"followers"`
	Images      []Image   `json:"images,omitempty"`
}

// SearchResult is one page of track search results.
type SearchResult struct {
	Tracks []Track `json:"tracks"`
	Total  int     `json:"total"`
}

type searchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
		Total int     `json:"total"`
	} `json:"tracks"`
}
