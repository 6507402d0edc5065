// Package mocks provides an in-memory transaction context for contract
// tests: a map-backed stub with composite keys, paginated range scans,
// private collections, per-key history, and a configurable client
// identity. Only the stub methods the contracts exercise are functional;
// the rest satisfy the interface and report that they are unsupported.
package mocks

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
)

const compositeKeyNamespace = "\x00"

// Stub is an in-memory shim.ChaincodeStubInterface.
type Stub struct {
	TxID      string
	Timestamp time.Time

	state     map[string][]byte
	private   map[string]map[string][]byte
	history   map[string][]*queryresult.KeyModification
	events    map[string][]byte
	transient map[string][]byte
}

// NewStub returns a stub with a fixed transaction ID and timestamp.
func NewStub(txID string, ts time.Time) *Stub {
	return &Stub{
		TxID:      txID,
		Timestamp: ts,
		state:     map[string][]byte{},
		private:   map[string]map[string][]byte{},
		history:   map[string][]*queryresult.KeyModification{},
		events:    map[string][]byte{},
		transient: map[string][]byte{},
	}
}

// SetTx advances the stub to a new transaction ID and timestamp,
// simulating a subsequent invocation against the same ledger state.
func (s *Stub) SetTx(txID string, ts time.Time) {
	s.TxID = txID
	s.Timestamp = ts
}

// Event returns the payload of a previously emitted event, if any.
func (s *Stub) Event(name string) []byte {
	return s.events[name]
}

// StateKeys returns every public world-state key, sorted.
func (s *Stub) StateKeys() []string {
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Stub) GetTxID() string { return s.TxID }
func (s *Stub) GetChannelID() string { return "testchannel" }

func (s *Stub) GetTxTimestamp() (*timestamp.Timestamp, error) {
	return &timestamp.Timestamp{
		Seconds: s.Timestamp.Unix(),
		Nanos:   int32(s.Timestamp.Nanosecond()),
	}, nil
}

func (s *Stub) GetState(key string) ([]byte, error) {
	return s.state[key], nil
}

func (s *Stub) PutState(key string, value []byte) error {
	s.state[key] = value
	s.appendHistory(key, value, false)
	return nil
}

func (s *Stub) DelState(key string) error {
	delete(s.state, key)
	s.appendHistory(key, nil, true)
	return nil
}

func (s *Stub) appendHistory(key string, value []byte, isDelete bool) {
	s.history[key] = append(s.history[key], &queryresult.KeyModification{
		TxId:  s.TxID,
		Value: value,
		Timestamp: &timestamp.Timestamp{
			Seconds: s.Timestamp.Unix(),
			Nanos:   int32(s.Timestamp.Nanosecond()),
		},
		IsDelete: isDelete,
	})
}

func (s *Stub) GetPrivateData(collection, key string) ([]byte, error) {
	coll, ok := s.private[collection]
	if !ok {
		return nil, nil
	}
	return coll[key], nil
}

func (s *Stub) PutPrivateData(collection, key string, value []byte) error {
	coll, ok := s.private[collection]
	if !ok {
		coll = map[string][]byte{}
		s.private[collection] = coll
	}
	coll[key] = value
	return nil
}

func (s *Stub) DelPrivateData(collection, key string) error {
	if coll, ok := s.private[collection]; ok {
		delete(coll, key)
	}
	return nil
}

func (s *Stub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	ck := compositeKeyNamespace + objectType + compositeKeyNamespace
	for _, attr := range attributes {
		ck += attr + compositeKeyNamespace
	}
	return ck, nil
}

func (s *Stub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	if !strings.HasPrefix(compositeKey, compositeKeyNamespace) {
		return "", nil, fmt.Errorf("not a composite key: %q", compositeKey)
	}
	parts := strings.Split(strings.TrimPrefix(compositeKey, compositeKeyNamespace), compositeKeyNamespace)
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("malformed composite key: %q", compositeKey)
	}
	return parts[0], parts[1 : len(parts)-1], nil
}

func (s *Stub) sortedKeysInRange(startKey, endKey string) []string {
	var keys []string
	for k := range s.state {
		if k >= startKey && (endKey == "" || k < endKey) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Stub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	return s.iteratorFor(s.sortedKeysInRange(startKey, endKey)), nil
}

func (s *Stub) GetStateByRangeWithPagination(startKey, endKey string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return s.paginate(s.sortedKeysInRange(startKey, endKey), pageSize, bookmark)
}

func (s *Stub) partialCompositePrefix(objectType string, keys []string) string {
	prefix := compositeKeyNamespace + objectType + compositeKeyNamespace
	for _, k := range keys {
		prefix += k + compositeKeyNamespace
	}
	return prefix
}

func (s *Stub) keysWithPrefix(prefix string) []string {
	var keys []string
	for k := range s.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Stub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	return s.iteratorFor(s.keysWithPrefix(s.partialCompositePrefix(objectType, keys))), nil
}

func (s *Stub) GetStateByPartialCompositeKeyWithPagination(objectType string, keys []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return s.paginate(s.keysWithPrefix(s.partialCompositePrefix(objectType, keys)), pageSize, bookmark)
}

// paginate slices sorted keys at the bookmark. The bookmark is the next
// key to return, mirroring a resumable opaque cursor: no duplicates, no
// omissions across pages.
func (s *Stub) paginate(keys []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	start := 0
	if bookmark != "" {
		start = sort.SearchStrings(keys, bookmark)
	}
	end := start + int(pageSize)
	if pageSize <= 0 || end > len(keys) {
		end = len(keys)
	}
	page := keys[start:end]

	next := ""
	if end < len(keys) {
		next = keys[end]
	}
	meta := &peer.QueryResponseMetadata{
		FetchedRecordsCount: int32(len(page)),
		Bookmark:            next,
	}
	return s.iteratorFor(page), meta, nil
}

func (s *Stub) iteratorFor(keys []string) *StateIterator {
	kvs := make([]*queryresult.KV, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &queryresult.KV{Key: k, Value: s.state[k]})
	}
	return &StateIterator{kvs: kvs}
}

func (s *Stub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	mods := s.history[key]
	// Newest first, as the peer returns it.
	reversed := make([]*queryresult.KeyModification, 0, len(mods))
	for i := len(mods) - 1; i >= 0; i-- {
		reversed = append(reversed, mods[i])
	}
	return &HistoryIterator{mods: reversed}, nil
}

func (s *Stub) SetEvent(name string, payload []byte) error {
	s.events[name] = payload
	return nil
}

func (s *Stub) GetTransient() (map[string][]byte, error) {
	return s.transient, nil
}

// Unsupported portions of the interface.

var errUnsupported = errors.New("not supported by mock stub")

func (s *Stub) GetArgs() [][]byte                      { return nil }
func (s *Stub) GetStringArgs() []string                { return nil }
func (s *Stub) GetFunctionAndParameters() (string, []string) { return "", nil }
func (s *Stub) GetArgsSlice() ([]byte, error) { return nil, errUnsupported }
func (s *Stub) InvokeChaincode(string, [][]byte, string) peer.Response {
	return peer.Response{Status: 500, Message: errUnsupported.Error()}
}
func (s *Stub) SetStateValidationParameter(string, []byte) error { return errUnsupported }
func (s *Stub) GetStateValidationParameter(string) ([]byte, error) {
	return nil, errUnsupported
}
func (s *Stub) GetQueryResult(string) (shim.StateQueryIteratorInterface, error) {
	return nil, errUnsupported
}
func (s *Stub) GetQueryResultWithPagination(string, int32, string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errUnsupported
}
func (s *Stub) GetPrivateDataHash(string, string) ([]byte, error) { return nil, errUnsupported }
func (s *Stub) PurgePrivateData(string, string) error             { return errUnsupported }
func (s *Stub) SetPrivateDataValidationParameter(string, string, []byte) error {
	return errUnsupported
}
func (s *Stub) GetPrivateDataValidationParameter(string, string) ([]byte, error) {
	return nil, errUnsupported
}
func (s *Stub) GetPrivateDataByRange(string, string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errUnsupported
}
func (s *Stub) GetPrivateDataByPartialCompositeKey(string, string, []string) (shim.StateQueryIteratorInterface, error) {
	return nil, errUnsupported
}
func (s *Stub) GetPrivateDataQueryResult(string, string) (shim.StateQueryIteratorInterface, error) {
	return nil, errUnsupported
}
func (s *Stub) GetCreator() ([]byte, error) { return nil, errUnsupported }
func (s *Stub) GetBinding() ([]byte, error) { return nil, errUnsupported }
func (s *Stub) GetDecorations() map[string][]byte    { return nil }
func (s *Stub) GetSignedProposal() (*peer.SignedProposal, error) {
	return nil, errUnsupported
}

// StateIterator iterates a fixed KV slice.
type StateIterator struct {
	kvs []*queryresult.KV
	pos int
}

func (it *StateIterator) HasNext() bool { return it.pos < len(it.kvs) }

func (it *StateIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("no more items")
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

func (it *StateIterator) Close() error { return nil }

// HistoryIterator iterates a fixed KeyModification slice.
type HistoryIterator struct {
	mods []*queryresult.KeyModification
	pos  int
}

func (it *HistoryIterator) HasNext() bool { return it.pos < len(it.mods) }

func (it *HistoryIterator) Next() (*queryresult.KeyModification, error) {
	if !it.HasNext() {
		return nil, errors.New("no more items")
	}
	mod := it.mods[it.pos]
	it.pos++
	return mod, nil
}

func (it *HistoryIterator) Close() error { return nil }

// ClientIdentity is a configurable cid.ClientIdentity.
type ClientIdentity struct {
	ID    string
	MSPID string
	Attrs map[string]string
}

func (c *ClientIdentity) GetID() (string, error) { return c.ID, nil }
func (c *ClientIdentity) GetMSPID() (string, error) { return c.MSPID, nil }

func (c *ClientIdentity) GetAttributeValue(name string) (string, bool, error) {
	v, ok := c.Attrs[name]
	return v, ok, nil
}

func (c *ClientIdentity) AssertAttributeValue(name, value string) error {
	v, ok := c.Attrs[name]
	if !ok || v != value {
		return fmt.Errorf("attribute %s does not have value %s", name, value)
	}
	return nil
}

func (c *ClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, errUnsupported
}

// TransactionContext bundles a stub and identity for contract tests.
type TransactionContext struct {
	Stub     *Stub
	Identity *ClientIdentity
}

// NewContext returns a context with the given caller identity and a
// fixed transaction envelope.
func NewContext(callerID, txID string, ts time.Time) *TransactionContext {
	return &TransactionContext{
		Stub:     NewStub(txID, ts),
		Identity: &ClientIdentity{ID: callerID, MSPID: "Org1MSP"},
	}
}

// As switches the caller identity, keeping ledger state.
func (t *TransactionContext) As(callerID string) *TransactionContext {
	t.Identity = &ClientIdentity{ID: callerID, MSPID: t.Identity.MSPID, Attrs: t.Identity.Attrs}
	return t
}

func (t *TransactionContext) GetStub() shim.ChaincodeStubInterface { return t.Stub }

func (t *TransactionContext) GetClientIdentity() cid.ClientIdentity { return t.Identity }
