package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/serializer"
	"github.com/ValentinKolb/layerkv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request to the shard and returns the response.
// Failures reported by the server are returned as *store.Error with the
// original return code, a response of an unexpected type is an error as well.
func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := a.transport.Send(ctx, a.shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc: failed to decode %s response: %w", req.MsgType, err)
	}

	// Check if the response is an error response
	if err := resp.Failure(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("rpc: unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
