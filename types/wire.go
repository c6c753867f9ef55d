package types

// PushMessage is what is actually sent via the websocket push channel: a tagged record carrying either the full
// room or only its id.
type PushMessage struct {
	Type   string `json:"type" mapstructure:"type"`
	Room   Record `json:"room,omitempty" mapstructure:"room"`
	RoomId string `json:"room_id,omitempty" mapstructure:"room_id"`
	UserId string `json:"user_id,omitempty" mapstructure:"user_id"`
}
