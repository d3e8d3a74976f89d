package errors

const (
	CodeConfigNotFound   = "CONFIG_NOT_FOUND"
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeCacheMiss        = "CACHE_MISS"
)

// Types ////////////////////////////////////////

type CodedError interface {
	Code() string
}

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string {
	return e.msg
}

func (e *codedError) Code() string {
	return e.code
}

// Error Creators ///////////////////////////////

// The ltxkit pipeline config was not found
func ConfigNotFound(msg string) error {
	return &codedError{
		code: CodeConfigNotFound,
		msg:  msg,
	}
}

// The pinned release archive does not exist upstream
func ArtifactNotFound(msg string) error {
	return &codedError{
		code: CodeArtifactNotFound,
		msg:  msg,
	}
}

// No cached entry exists for the given key
func CacheMiss(msg string) error {
	return &codedError{
		code: CodeCacheMiss,
		msg:  msg,
	}
}

// Helpers //////////////////////////////////////

func IsConfigNotFound(err error) bool {
	return Code(err) == CodeConfigNotFound
}

func IsCacheMiss(err error) bool {
	return Code(err) == CodeCacheMiss
}

// Return the error code, or the empty string
func Code(err error) string {
	if cerr, ok := err.(CodedError); ok {
		return cerr.Code()
	}

	return ""
}
