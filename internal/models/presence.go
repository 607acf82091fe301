package models

// Default roster entry values assigned on a user's first socket join.
const (
	DefaultStatus      = "Online"
	DefaultStatusColor = "#4db6ac"
)

// OnlineUser is one entry in a tenant's online roster. Existence in the roster
// means the user has at least one live socket.
type OnlineUser struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Color  string `json:"color"`
}
