package natsx

import (
	"context"

	"github.com/pkg/errors"
)

// ErrBrokerClosed Close 之后的发布/订阅一律拒绝
var ErrBrokerClosed = errors.New("natsx: broker closed")

// Subscription 一条活跃订阅；Cancel 必须及时释放 broker 侧路由资源
type Subscription interface {
	Cancel() error
}

// Broker 显式构造、显式注入的消息中间件句柄。
// 启动时 New 出实现并传给需要它的组件，进程退出时 Close。
// 同一 subject 上的多条订阅各自收到一份拷贝（广播语义）。
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
	Subscribe(subject string, cb func(NatsxMessage)) (Subscription, error)
	Close() error
}
