package dispatch

import (
	"context"
	"fmt"
	"net"
)

// SocketConnector dials a consumer listening on a unix socket. The consumer
// name is not used for addressing; it is only reported in errors.
type SocketConnector struct {
	Path string
}

// Connect implements Connector.
func (c SocketConnector) Connect(ctx context.Context, name string, h Handlers) (Port, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return nil, fmt.Errorf("connect %s at %s: %w", name, c.Path, err)
	}
	return newStreamPort(conn, conn, conn.Close, nil, h), nil
}
