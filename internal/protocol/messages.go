package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ActorID         string     `json:"actor_id"`
	ActorName       string     `json:"actor_name,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	ActorID         string         `json:"actor_id"`
	WorldID         string         `json:"world_id"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Commands        []string       `json:"commands"`
}

type CatalogDigests struct {
	PrefabsDigest string `json:"prefabs_digest"`
	ItemsDigest   string `json:"items_digest"`
}

// CMD (client -> server): one command line such as "save base" or
// "build.load base".
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Line            string `json:"line"`
}

// REPLY (server -> client): a progress or result line for command ID.
type ReplyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Text            string `json:"text"`
}

// DONE (server -> client): command ID finished. Code is empty on success.
type DoneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	OpID            string `json:"op_id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
}

// ERROR (server -> client): connection-level failure not tied to a command.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
