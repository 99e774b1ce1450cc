package daemon

// RequestTag is the first int32 read from every client connection,
// drawn from the closed enumeration spec.md §3 names.
type RequestTag int32

const (
	Superuser RequestTag = iota
	CheckVersion
	CheckVersionCode
	PostFsData
	LateStart
	HideStart
	HideStop
	HideAdd
	HideRemove
	HideList
	HideConnect
	Handshake
)

// Status is the first int32 of a response on the daemon channel.
type Status int32

const (
	Success Status = iota
	Error
	RootRequired
	LogcatDisabled
	HideIsEnabled
	HideNotEnabled
	HideItemExist
	HideItemNotExist
)

// rootRequired is the set of request tags that require peer uid == 0
// before the handler even runs (spec.md §4.7 "Dispatch").
var rootRequired = map[RequestTag]bool{
	HideStart:  true,
	HideStop:   true,
	HideAdd:    true,
	HideRemove: true,
	HideList:   true,
	PostFsData: true,
	LateStart:  true,
}

// versionString and versionCode back the CheckVersion/CheckVersionCode
// handlers; bumped at release time, like the teacher's own
// pkg/sylog-adjacent version stamping.
const (
	versionString = "26.1"
	versionCode   = int32(26100)
)
