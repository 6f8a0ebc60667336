package protocol

// Translation keys for user-facing notices. The client renders them.
const (
	NoticeMicrophoneError    = "toast.microphoneError"
	NoticeAudioNotRecognized = "toast.audioNotRecognized"
	NoticeErrorPlayingAudio  = "toast.errorPlayingAudio"
	NoticeAuthRequired       = "auth.required"
	NoticeAPIError           = "toast.apiError.description"
	NoticeEmptyResponse      = "toast.apiEmptyResponse.description"
)

const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
	VariantWarning     = "yellow"
)

// Notice is a non-blocking message for the user, identified by its
// translation key.
type Notice struct {
	Key     string `json:"key"`
	Variant string `json:"variant,omitempty"`
}

// NoticeFunc receives notices. A nil NoticeFunc drops them.
type NoticeFunc func(Notice)

func (f NoticeFunc) Emit(n Notice) {
	if f != nil {
		f(n)
	}
}
