package logging

import (
	"io"
	"strconv"
	"time"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
)

// Reporter turns lifecycle milestones into LogEntry records for a Sink.
type Reporter struct {
	sink Sink
	now  func() time.Time
}

// NewReporter creates a reporter writing to sink. A nil sink writes through
// the global logger.
func NewReporter(sink Sink) *Reporter {
	if sink == nil {
		sink = NewLoggerSink(nil)
	}
	return &Reporter{sink: sink, now: time.Now}
}

// Info records a successful milestone.
func (r *Reporter) Info(ev Event) {
	r.sink.Write(NewLogEntry(r.now(), ResultOK, ev, "", ""))
}

// Warn records a non-alerting failure.
func (r *Reporter) Warn(ev Event, errorCode, errorMessage string) {
	r.sink.Write(NewLogEntry(r.now(), ResultWarn, ev, errorCode, errorMessage))
}

// Error records an alerting failure.
func (r *Reporter) Error(ev Event, errorCode, errorMessage string) {
	r.sink.Write(NewLogEntry(r.now(), ResultError, ev, errorCode, errorMessage))
}

// Exception records err with the severity and code chosen by ClassifySeverity,
// adding the exception's request details to the event info.
func (r *Reporter) Exception(err error, ev Event) {
	result, code, extra := ClassifySeverity(err)

	info := make(map[string]string, len(ev.Info)+len(extra))
	for k, v := range ev.Info {
		info[k] = v
	}
	for k, v := range extra {
		info[k] = v
	}
	ev.Info = info

	message := ""
	if err != nil {
		message = err.Error()
	}
	r.sink.Write(NewLogEntry(r.now(), result, ev, code, message))
}

// Close closes the sink if it holds resources.
func (r *Reporter) Close() error {
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ClassifySeverity maps a failure to a log result, a log error code and extra
// info fields:
//
//	NetworkConnectionException        WARN   NETWORK_FAILURE
//	APIException, 400 VALIDATION_ERROR ERROR  API_VALIDATION_ERROR
//	APIException, otherwise           WARN   API_ERROR_<status>
//	anything else                     ERROR  RUNTIME_ERROR
//
// Validation rejections are caused by user input rather than an outage, so
// their entries carry alerting=false.
func ClassifySeverity(err error) (Result, string, map[string]string) {
	info := map[string]string{}

	exc, _ := streamerrors.AsException(err)
	switch e := exc.(type) {
	case *streamerrors.NetworkConnectionException:
		info["api_url"] = e.RequestURL
		info["original_message"] = e.OriginalErrorMessage
		return ResultWarn, streamerrors.CodeNetworkFailure, info

	case *streamerrors.APIException:
		info["api_url"] = e.RequestURL
		info["api_response"] = string(e.RawBody)
		info["api_status"] = strconv.Itoa(e.StatusCode)
		if e.ErrorID != "" {
			info["api_error_id"] = e.ErrorID
		}
		if e.ErrorCode != "" {
			info["api_error_code"] = e.ErrorCode
		}
		if e.IsValidation() {
			info["alerting"] = "false"
			return ResultError, e.LogCode(), info
		}
		return ResultWarn, e.LogCode(), info

	default:
		return ResultError, streamerrors.CodeRuntimeError, info
	}
}
