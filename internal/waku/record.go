package waku

// ConsentRecord is the wire form of one signed allow/block decision. Owner is
// the address that issued the decision about Peer; records are scoped to their
// owner when queried.
type ConsentRecord struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Peer      string `json:"peer"`
	State     string `json:"state"`
	IssuedAt  int64  `json:"issued_at"`
	Signature []byte `json:"signature"`
}
