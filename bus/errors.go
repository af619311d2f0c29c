package bus

import "github.com/ceyewan/fabric/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("bus: config is nil")

	// ErrConnectorNil 连接器为空
	ErrConnectorNil = xerrors.New("bus: connector is nil")

	// ErrEventNil 事件为空
	ErrEventNil = xerrors.New("bus: event is nil")

	// ErrEventTypeEmpty 事件类型为空
	ErrEventTypeEmpty = xerrors.New("bus: event type is empty")

	// ErrQueueEmpty 队列名为空
	ErrQueueEmpty = xerrors.New("bus: queue is empty")

	// ErrHandlerNil 订阅既没有 Handler 也没有 Responder
	ErrHandlerNil = xerrors.New("bus: subscription needs a handler or responder")

	// ErrNotSubscribed 事件类型没有对应的订阅
	ErrNotSubscribed = xerrors.New("bus: event type not subscribed")

	// ErrAlreadySubscribed 事件类型已有订阅
	ErrAlreadySubscribed = xerrors.New("bus: event type already subscribed")

	// ErrRequestTimeout 请求在超时时间内未收到应答
	ErrRequestTimeout = xerrors.New("bus: request timed out")

	// ErrClosed 总线已关闭
	ErrClosed = xerrors.New("bus: closed")
)
