// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

// A2A JSON-RPC methods.
const (
	MethodMessageSend      = "message/send"
	MethodMessageStream    = "message/stream"
	MethodTasksGet         = "tasks/get"
	MethodTasksCancel      = "tasks/cancel"
	MethodPushConfigSet    = "tasks/pushNotificationConfig/set"
	MethodPushConfigGet    = "tasks/pushNotificationConfig/get"
	MethodPushConfigList   = "tasks/pushNotificationConfig/list"
	MethodPushConfigDelete = "tasks/pushNotificationConfig/delete"
)

// JSON-RPC error codes. The -3200x codes follow A2A; -3201x cover the rest of
// the error taxonomy.
const (
	CodeParseError                   = -32700
	CodeInvalidRequest               = -32600
	CodeMethodNotFound               = -32601
	CodeInvalidParams                = -32602
	CodeInternalError                = -32603
	CodeTaskNotFound                 = -32001
	CodeTaskNotCancelable            = -32002
	CodePushNotificationNotSupported = -32003
	CodeUnsupportedOperation         = -32004
	CodeContentTypeNotSupported      = -32005
	CodeAuth                         = -32010
	CodeInvalidTaskState             = -32011
	CodeProtocol                     = -32012
	CodeProvider                     = -32013
	CodeTimeout                      = -32014
	CodePersistence                  = -32015
)

// RPCCode maps k onto a JSON-RPC error code.
func (k ErrorKind) RPCCode() int {
	switch k {
	case KindValidation:
		return CodeInvalidParams
	case KindAuth:
		return CodeAuth
	case KindNotFound:
		return CodeTaskNotFound
	case KindInvalidTaskState:
		return CodeInvalidTaskState
	case KindProtocol:
		return CodeProtocol
	case KindProvider:
		return CodeProvider
	case KindTimeout:
		return CodeTimeout
	case KindPersistence:
		return CodePersistence
	default:
		return CodeInternalError
	}
}

// MessageSendConfiguration tunes a message/send call.
type MessageSendConfiguration struct {
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	HistoryLength          *int                    `json:"historyLength,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
	Blocking               *bool                   `json:"blocking,omitempty"`
}

// MessageSendParams are the params of message/send and message/stream.
type MessageSendParams struct {
	Message       *Message                  `json:"message"`
	Configuration *MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

// TaskQueryParams are the params of tasks/get.
type TaskQueryParams struct {
	ID            TaskID `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// TaskIDParams are the params of tasks/cancel and
// tasks/pushNotificationConfig/list.
type TaskIDParams struct {
	ID TaskID `json:"id"`
}

// PushConfigParams are the params of tasks/pushNotificationConfig/get and
// tasks/pushNotificationConfig/delete.
type PushConfigParams struct {
	ID                       TaskID   `json:"id"`
	PushNotificationConfigID ConfigID `json:"pushNotificationConfigId"`
}

// TaskPushNotificationConfig binds a push notification config to a task. It
// is the params of tasks/pushNotificationConfig/set and the result of the
// pushNotificationConfig methods.
type TaskPushNotificationConfig struct {
	TaskID                 TaskID                  `json:"taskId"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig"`
}
