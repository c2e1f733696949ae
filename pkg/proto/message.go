package proto

// Op values accepted by the name server from clients.
const (
	OpCliRegister     = "CLI_REGISTER"
	OpCliDeregister   = "CLI_DEREGISTER"
	OpView            = "VIEW"
	OpListUsers       = "LIST_USERS"
	OpViewRoute       = "VIEW_ROUTE"
	OpReadRoute       = "READ_ROUTE"
	OpWriteRoute      = "WRITE_ROUTE"
	OpStreamRoute     = "STREAM_ROUTE"
	OpCreate          = "CREATE"
	OpDelete          = "DELETE"
	OpInfo            = "INFO"
	OpAddAccess       = "ADDACCESS"
	OpRemAccess       = "REMACCESS"
	OpExec            = "EXEC"
	OpCreateFolder    = "CREATEFOLDER"
	OpViewFolder      = "VIEWFOLDER"
	OpMove            = "MOVE"
	OpCheckpoint      = "CHECKPOINT"
	OpViewCheckpoint  = "VIEWCHECKPOINT"
	OpRevert          = "REVERT"
	OpListCheckpoints = "LISTCHECKPOINTS"
	OpRequestAccess   = "REQUESTACCESS"
	OpViewRequests    = "VIEWREQUESTS"
	OpRespondRequest  = "RESPONDREQUEST"
)

// Op values accepted by the name server from storage servers.
const (
	OpSSRegister  = "SS_REGISTER"
	OpSSHeartbeat = "SS_HEARTBEAT"
)

// Op values accepted by a storage server.
const (
	OpRead        = "READ"
	OpWriteBegin  = "WRITE_BEGIN"
	OpWriteEdit   = "WRITE_EDIT"
	OpWriteCommit = "WRITE_COMMIT"
	OpUndo        = "UNDO"
	OpStream      = "STREAM"
	OpList        = "LIST"
	OpNMCreate    = "NM_CREATE"
	OpNMDelete    = "NM_DELETE"
	OpNMAccess    = "NM_ACCESS"
	OpGetContent  = "GET_CONTENT"
)

// Op values emitted by servers.
const (
	OpNMAck        = "NM_ACK"
	OpRoute        = "ROUTE"
	OpData         = "DATA"
	OpTok          = "TOK"
	OpStop         = "STOP"
	OpSSBackOnline = "SS_BACK_ONLINE"
)

// Message is the single wire envelope: one JSON object per line, the op
// field naming the request or event, everything else op-specific. Zero
// fields are elided so each line carries only what the op uses.
type Message struct {
	Op     string `json:"op,omitempty"`
	Status Status `json:"status"`
	Code   string `json:"code,omitempty"`
	Msg    string `json:"msg,omitempty"`

	User string `json:"user,omitempty"`
	File string `json:"file,omitempty"`

	Folder string `json:"folder,omitempty"`
	Flags  string `json:"flags,omitempty"`
	Tag    string `json:"tag,omitempty"`

	Content     string `json:"content,omitempty"`
	Info        string `json:"info,omitempty"`
	Files       string `json:"files,omitempty"`
	Users       string `json:"users,omitempty"`
	Requests    string `json:"requests,omitempty"`
	Checkpoints string `json:"checkpoints,omitempty"`
	Output      string `json:"output,omitempty"`
	Word        string `json:"w,omitempty"`

	SSID         string `json:"ss_id,omitempty"`
	SSHost       string `json:"ss_host,omitempty"`
	SSPort       int    `json:"ss_port,omitempty"`
	SSClientPort int    `json:"ss_client_port,omitempty"`
	SSNMPort     int    `json:"ss_nm_port,omitempty"`
	IsReplica    bool   `json:"is_replica,omitempty"`

	Owner      string `json:"owner,omitempty"`
	TargetUser string `json:"target_user,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Cmd        string `json:"cmd,omitempty"`
	Actor      string `json:"actor,omitempty"`

	Requester string `json:"requester,omitempty"`
	Approve   int    `json:"approve,omitempty"`

	SentenceIdx int `json:"sentence_idx,omitempty"`
	WordIndex   int `json:"word_index,omitempty"`
}

// OK builds a success response.
func OK() *Message {
	return &Message{Status: StatusOK}
}

// Fail builds an error response from an error value.
func Fail(err error) *Message {
	s := StatusOf(err)
	return &Message{Status: s, Code: s.String(), Msg: err.Error()}
}

// FailStatus builds an error response from an explicit status.
func FailStatus(s Status, msg string) *Message {
	return &Message{Status: s, Code: s.String(), Msg: msg}
}
