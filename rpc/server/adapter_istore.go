package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, req *common.Message, s store.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewFailureResponse(store.RetCInternalError, "handler: store is nil")
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`layerkv_rpc_requests_total{type=%q}`, req.MsgType)).Inc()
	resp := adapter.dispatch(ctx, req, s)
	if resp.Code != store.RetCSuccess {
		metrics.GetOrCreateCounter(fmt.Sprintf(`layerkv_rpc_errors_total{code=%q}`, resp.Code)).Inc()
		Logger.Debugf("%s failed: %s", req.MsgType, resp.Err)
	}
	return resp
}

func (adapter *iStoreServerAdapterImpl) dispatch(ctx context.Context, req *common.Message, s store.IStore) *common.Message {
	tx, err := req.TxOf()
	if err != nil {
		return common.NewErrorResponse(req.MsgType, err)
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTGet:
		keys, err := req.DecodeKeys()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		return common.NewGetResponse(s.Get(ctx, tx, keys))

	case common.MsgTPut:
		entities, err := req.DecodeEntities()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		return common.NewPutResponse(s.Put(ctx, tx, entities))

	case common.MsgTDelete:
		keys, err := req.DecodeKeys()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		return common.NewDeleteResponse(s.Delete(ctx, tx, keys))

	case common.MsgTQuery:
		q, err := req.DecodeQuery()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		it, err := s.Run(ctx, tx, q)
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		origin := originOf(it)
		items, err := query.Drain(ctx, it)
		return common.NewQueryResponse(items, origin, err)

	case common.MsgTCount:
		q, err := req.DecodeQuery()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		return common.NewCountResponse(s.Count(ctx, tx, q))

	case common.MsgTAllocate:
		parent, err := req.DecodeParent()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		return common.NewAllocateResponse(s.AllocateIDs(ctx, parent, req.Kind, int(req.Count)))

	case common.MsgTInfo:
		return common.NewInfoResponse(s.GetDBInfo())

	default:
		return common.NewErrorResponse(req.MsgType,
			store.Errorf(store.RetCInvalidOperation, "unsupported message type: %s", req.MsgType))
	}
}

// originOf returns the position of a fresh iterator, -1 if it has no cursors
func originOf(it query.Iterator) int {
	c, err := it.Cursor()
	if err != nil {
		return -1
	}
	pos, err := c.Position()
	if err != nil {
		return -1
	}
	return pos
}
