package channel

import (
	"crypto/ecdsa"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type signer struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return signer{key: key, addr: addr}
}

func newSigners(t *testing.T, n int) []signer {
	t.Helper()
	signers := make([]signer, n)
	for i := range signers {
		signers[i] = newSigner(t)
	}
	return signers
}

func participantSet(signers []signer) [][20]byte {
	participants := make([][20]byte, len(signers))
	for i, s := range signers {
		participants[i] = s.addr
	}
	return participants
}

func sign(t *testing.T, s signer, digest [32]byte) []byte {
	t.Helper()
	sig, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestQuorumThreshold(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 10: 6}
	for n, want := range cases {
		if got := QuorumThreshold(n); got != want {
			t.Fatalf("threshold for %d participants: got %d, want %d", n, got, want)
		}
	}
}

func TestVerifyQuorumExactThreshold(t *testing.T) {
	signers := newSigners(t, 3)
	participants := participantSet(signers)
	digest := UpdateDigest([32]byte{0x01}, 1, [32]byte{0xAA})

	sigs := [][]byte{sign(t, signers[0], digest)}
	if VerifyQuorum(participants, digest, sigs) {
		t.Fatal("one of three signatures must not reach quorum")
	}
	sigs = append(sigs, sign(t, signers[1], digest))
	if !VerifyQuorum(participants, digest, sigs) {
		t.Fatal("two of three signatures must reach quorum")
	}
}

func TestVerifyQuorumRejectsDuplicateSigner(t *testing.T) {
	signers := newSigners(t, 3)
	participants := participantSet(signers)
	digest := UpdateDigest([32]byte{0x02}, 1, [32]byte{0xBB})

	sig := sign(t, signers[0], digest)
	sigs := [][]byte{sig, append([]byte(nil), sig...)}
	if VerifyQuorum(participants, digest, sigs) {
		t.Fatal("duplicate signatures from one signer must count once")
	}
	if got := CountValidSigners(participants, digest, sigs); got != 1 {
		t.Fatalf("expected 1 distinct signer, got %d", got)
	}
}

func TestVerifyQuorumIgnoresOutsiders(t *testing.T) {
	signers := newSigners(t, 3)
	participants := participantSet(signers)
	outsider := newSigner(t)
	digest := UpdateDigest([32]byte{0x03}, 1, [32]byte{0xCC})

	sigs := [][]byte{
		sign(t, signers[0], digest),
		sign(t, outsider, digest),
	}
	if VerifyQuorum(participants, digest, sigs) {
		t.Fatal("outsider signature must not count toward quorum")
	}
}

func TestVerifyQuorumIgnoresMalformedSignatures(t *testing.T) {
	signers := newSigners(t, 1)
	participants := participantSet(signers)
	digest := UpdateDigest([32]byte{0x04}, 1, [32]byte{0xDD})

	if CountValidSigners(participants, digest, [][]byte{{0x01, 0x02}}) != 0 {
		t.Fatal("malformed signature must not count")
	}
}

func TestUpdateDigestBindsChannelAndNonce(t *testing.T) {
	hash := [32]byte{0xEE}
	if UpdateDigest([32]byte{0x01}, 1, hash) == UpdateDigest([32]byte{0x02}, 1, hash) {
		t.Fatal("digest must bind the channel id")
	}
	if UpdateDigest([32]byte{0x01}, 1, hash) == UpdateDigest([32]byte{0x01}, 2, hash) {
		t.Fatal("digest must bind the nonce")
	}
}
