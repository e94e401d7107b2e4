package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func TestChainlinkMissingConfig(t *testing.T) {
	src := NewChainlinkSource(ChainlinkOptions{}, noopLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	src = NewChainlinkSource(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("缺少合约地址应报错")
	}
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func fakeFeedServer(t *testing.T, answer int64, updatedAt time.Time) *httptest.Server {
	t.Helper()

	decimalsOut, err := aggregatorABI.Methods["decimals"].Outputs.Pack(uint8(8))
	if err != nil {
		t.Fatalf("打包 decimals 失败: %v", err)
	}
	roundOut, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(42),
		big.NewInt(answer),
		big.NewInt(updatedAt.Unix()),
		big.NewInt(updatedAt.Unix()),
		big.NewInt(42),
	)
	if err != nil {
		t.Fatalf("打包 latestRoundData 失败: %v", err)
	}
	decimalsID := aggregatorABI.Methods["decimals"].ID

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析 RPC 请求失败: %v", err)
			return
		}

		var result any
		switch req.Method {
		case "eth_blockNumber":
			result = "0x1312d00"
		case "eth_call":
			var call struct {
				Data  hexutil.Bytes `json:"data"`
				Input hexutil.Bytes `json:"input"`
			}
			_ = json.Unmarshal(req.Params[0], &call)
			input := call.Input
			if len(input) == 0 {
				input = call.Data
			}
			if bytes.HasPrefix(input, decimalsID) {
				result = hexutil.Bytes(decimalsOut)
			} else {
				result = hexutil.Bytes(roundOut)
			}
		default:
			t.Errorf("未预期的 RPC 方法 %s", req.Method)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestChainlinkFetch(t *testing.T) {
	srv := fakeFeedServer(t, 412_500_000, time.Now())
	defer srv.Close()

	src := NewChainlinkSource(ChainlinkOptions{
		Name:    "rndr_usd",
		RPCURL:  srv.URL,
		Address: "0x0000000000000000000000000000000000000001",
		Unit:    "usd",
		Timeout: 2 * time.Second,
		MaxAge:  time.Hour,
	}, noopLogger())

	obs, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("读取喂价不应报错: %v", err)
	}
	if obs.Value.String() != "4.125" {
		t.Fatalf("期望 4.125, 实际 %s", obs.Value)
	}
	if obs.BlockNumber != 20_000_000 {
		t.Fatalf("区块号不正确: %d", obs.BlockNumber)
	}
}

func TestChainlinkStaleRound(t *testing.T) {
	srv := fakeFeedServer(t, 100_000_000, time.Now().Add(-48*time.Hour))
	defer srv.Close()

	src := NewChainlinkSource(ChainlinkOptions{
		Name:    "rndr_usd",
		RPCURL:  srv.URL,
		Address: "0x0000000000000000000000000000000000000001",
		MaxAge:  time.Hour,
	}, noopLogger())

	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("过期的 round 应报错")
	}
}
