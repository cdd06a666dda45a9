package domain

type RoomID string

// RoomState is the room snapshot pushed by the relay on join.
type RoomState struct {
	Name    string `json:"name,omitempty"`
	Online  int    `json:"online,omitempty"`
	Users   []User `json:"users"`
	Playing *Song  `json:"playing,omitempty"`
}

// RoomInfo is a directory entry.
type RoomInfo struct {
	Name        RoomID `json:"name"`
	MemberCount int    `json:"client_count"`
}
