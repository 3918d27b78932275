package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeChain is a minimal Ethereum JSON-RPC endpoint serving the marketplace
// contract from memory.
type fakeChain struct {
	abi abi.ABI

	mu             sync.Mutex
	calls          map[string]int
	callFroms      []common.Address
	tokens         []listedToken
	uris           map[uint64]string
	fee            *big.Int
	chainID        uint64
	head           uint64
	advanceHead    bool
	failCalls      bool
	revertEstimate bool
	receiptStatus  uint64
	hiddenPolls    int
	sent           []*types.Transaction
	receipts       map[common.Hash]*types.Receipt
}

func newFakeChain(t *testing.T) (*fakeChain, *httptest.Server) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	f := &fakeChain{
		abi:           parsed,
		calls:         make(map[string]int),
		uris:          make(map[uint64]string),
		fee:           big.NewInt(10_000_000_000_000_000),
		chainID:       1337,
		head:          100,
		receiptStatus: types.ReceiptStatusSuccessful,
		receipts:      make(map[common.Hash]*types.Receipt),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeChain) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeChain) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	result, err := f.dispatch(req.Method, req.Params)
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if err != nil {
		resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeChain) dispatch(method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_chainId":
		return hexutil.EncodeUint64(f.chainID), nil
	case "eth_blockNumber":
		head := f.head
		if f.advanceHead {
			f.head++
		}
		return hexutil.EncodeUint64(head), nil
	case "eth_getTransactionCount":
		return hexutil.EncodeUint64(uint64(len(f.sent))), nil
	case "eth_gasPrice":
		return hexutil.EncodeBig(big.NewInt(1_000_000_000)), nil
	case "eth_estimateGas":
		if f.revertEstimate {
			return nil, errors.New("execution reverted: Only owner can list")
		}
		return hexutil.EncodeUint64(200_000), nil
	case "eth_call":
		return f.ethCall(params)
	case "eth_sendRawTransaction":
		return f.sendRaw(params)
	case "eth_getTransactionReceipt":
		return f.receipt(params)
	default:
		return nil, fmt.Errorf("method %s not supported", method)
	}
}

func (f *fakeChain) ethCall(params []json.RawMessage) (interface{}, error) {
	if f.failCalls {
		return nil, errors.New("node unavailable")
	}
	var arg struct {
		From  common.Address `json:"from"`
		Input hexutil.Bytes  `json:"input"`
		Data  hexutil.Bytes  `json:"data"`
	}
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return nil, err
	}
	data := arg.Input
	if len(data) == 0 {
		data = arg.Data
	}
	f.callFroms = append(f.callFroms, arg.From)

	m, err := f.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	var out []byte
	switch m.Name {
	case "getAllNFTs":
		out, err = m.Outputs.Pack(f.tokens)
	case "getMyNFTs":
		var mine []listedToken
		for _, tok := range f.tokens {
			if tok.Owner == arg.From || tok.Seller == arg.From {
				mine = append(mine, tok)
			}
		}
		if mine == nil {
			mine = []listedToken{}
		}
		out, err = m.Outputs.Pack(mine)
	case "getListedTokenForId":
		id := args[0].(*big.Int).Uint64()
		tok := listedToken{TokenId: new(big.Int), Price: new(big.Int)}
		for _, t := range f.tokens {
			if t.TokenId.Uint64() == id {
				tok = t
			}
		}
		out, err = m.Outputs.Pack(tok)
	case "tokenURI":
		out, err = m.Outputs.Pack(f.uris[args[0].(*big.Int).Uint64()])
	case "getListPrice":
		out, err = m.Outputs.Pack(f.fee)
	default:
		return nil, fmt.Errorf("eth_call to %s not supported", m.Name)
	}
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(out), nil
}

func (f *fakeChain) sendRaw(params []json.RawMessage) (interface{}, error) {
	var raw string
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:            f.receiptStatus,
		CumulativeGasUsed: 50_000,
		GasUsed:           50_000,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(f.head),
	}
	return tx.Hash().Hex(), nil
}

func (f *fakeChain) receipt(params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := json.Unmarshal(params[0], &hash); err != nil {
		return nil, err
	}
	if f.hiddenPolls > 0 {
		f.hiddenPolls--
		return nil, nil
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (f *fakeChain) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}
