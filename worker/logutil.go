package worker

import (
	"fmt"
	"strings"
	"time"
)

type rpclog_type int

const (
	log_REQUEST rpclog_type = iota
	log_RESPONSE
	log_ERROR
)

func (t rpclog_type) String() string {
	switch t {
	case log_REQUEST:
		return "REQ"
	case log_RESPONSE:
		return "RSP"
	case log_ERROR:
		return "ERR"
	default:
		return ""
	}
}

func transformRuneToPrintable(r rune) rune {
	if r >= 32 && r < 127 {
		return r
	}
	return '.'
}

func logString(str []byte) string {
	return strings.Map(transformRuneToPrintable, string(str))
}

func (ctx *Context) connIdString(size int) string {
	var dead_left time.Duration

	if !ctx.deadline.IsZero() {
		dead_left = time.Until(ctx.deadline).Round(time.Millisecond)
	}

	return fmt.Sprintf("%s %s/%d %d B [%s left]", ctx.task.GetOperation(),
		ctx.task.GetCallerId(), ctx.task.GetTaskId(), size, dead_left)
}

func (ctx *Context) rpclogErr(err error) {
	if ctx.logger != nil {
		ctx.logger.Infof("%s %s", log_ERROR.String(), err.Error())
	}
}

func (ctx *Context) rpclogRaw(b []byte, t rpclog_type) {
	if ctx.logger != nil {
		if (ctx.log_state == 0 && t == log_REQUEST) ||
			(ctx.log_state == 1 && t == log_RESPONSE) {

			ctx.logger.Infof("%s %s %s", t.String(), ctx.connIdString(len(b)), logString(b))
			ctx.log_state++
		}
	}
}
