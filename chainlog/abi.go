package chainlog

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// WallABI is the subset of the wall contract's ABI the reader uses.
const WallABI = `[
  {"anonymous":false,"type":"event","name":"Signed","inputs":[
    {"indexed":true,"name":"signer","type":"address"},
    {"indexed":true,"name":"tokenId","type":"uint256"},
    {"indexed":false,"name":"signatureData","type":"bytes"}]},
  {"type":"function","name":"sign","stateMutability":"nonpayable",
   "inputs":[{"name":"signatureData","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"nextTokenId","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// SignedEventSignature is the canonical signature of the Signed event.
const SignedEventSignature = "Signed(address,uint256,bytes)"

// SignedTopic is topic 0 of every Signed log.
var SignedTopic = keccak256Hash([]byte(SignedEventSignature))

func keccak256Hash(data []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return common.BytesToHash(h.Sum(nil))
}
