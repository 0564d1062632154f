package logger

import "go.uber.org/zap"

// Field constructors shared by every component so that log queries can
// rely on stable keys.

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func Company(company string) zap.Field { return zap.String("company", company) }

func MasterType(t string) zap.Field { return zap.String("master_type", t) }

func MasterName(name string) zap.Field { return zap.String("master_name", name) }

func Status(status string) zap.Field { return zap.String("status", status) }

func Actor(userID string) zap.Field { return zap.String("actor", userID) }

func SyncLogID(id string) zap.Field { return zap.String("sync_log_id", id) }

// Document identifies a source document as "Doctype/Name".
func Document(doctype, name string) zap.Field {
	return zap.String("document", doctype+"/"+name)
}

// TraceID is the X-Request-ID of the HTTP call being served.
func TraceID(id string) zap.Field { return zap.String("trace_id", id) }
