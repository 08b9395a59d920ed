// Command tallow-demo drives two in-process peers through a full
// handshake and an encrypted, integrity-checked file transfer: publishing
// and ingesting prekey bundles, opening a Triple Ratchet session on each
// side, comparing their Short Authentication Strings, chunking and
// encrypting a file, and verifying it against a signed Merkle manifest on
// the receiving side. There is no network transport here (see
// Non-goals); wire bytes are handed directly from one peer's encode to
// the other's decode, standing in for whatever carries them in a real
// deployment.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"github.com/tallowteam/Tallow-sub004/internal/constants"
	"github.com/tallowteam/Tallow-sub004/pkg/prekey"
	"github.com/tallowteam/Tallow-sub004/pkg/session"
	pkgversion "github.com/tallowteam/Tallow-sub004/pkg/version"
	"github.com/tallowteam/Tallow-sub004/pkg/wire"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		chunkSize := flag.NewFlagSet("demo", flag.ExitOnError)
		size := chunkSize.Int("size", 256*1024, "size in bytes of the demo file to transfer")
		verbose := chunkSize.Bool("verbose", false, "print per-step handshake and transfer detail")
		_ = chunkSize.Parse(os.Args[2:])
		runDemo(*size, *verbose)
	case "version":
		fmt.Printf("tallow-demo %s\n", pkgversion.Full())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tallow-demo - hybrid post-quantum file transfer demo

USAGE:
    tallow-demo <command> [options]

COMMANDS:
    demo       Run a two-party handshake and file transfer in-process
    version    Print version information
    help       Show this help message

EXAMPLES:
    tallow-demo demo --size 1048576 --verbose`)
}

func runDemo(fileSize int, verbose bool) {
	fmt.Println("================================================================")
	fmt.Println(" Tallow: hybrid post-quantum E2E file transfer demo")
	fmt.Println(" Hybrid KEX: X25519 + ML-KEM-768   Signatures: Ed25519 + ML-DSA-65")
	fmt.Println("================================================================")
	fmt.Println()

	alice, err := prekey.NewStore()
	must(err)
	bob, err := prekey.NewStore()
	must(err)
	fmt.Println("✓ Alice and Bob each generated an identity key and prekey bundle")

	bobBundleWire, err := session.PublishPrekeyBundle(bob)
	must(err)
	fmt.Printf("✓ Bob published his prekey bundle (%d bytes)\n", len(bobBundleWire))

	bobBundle, err := session.IngestPrekeyBundle(bobBundleWire)
	must(err)
	must(prekey.VerifyBundle(bobBundle))
	fmt.Println("✓ Alice fetched and verified Bob's bundle")

	sharedSecret, initMsg, err := prekey.EstablishAsInitiator(bobBundle)
	must(err)
	fmt.Printf("✓ Alice established a shared secret via X3DH-style handshake (one-time prekey used: %v)\n", sharedSecret.UsedOneTime)

	aliceDHPriv, err := session.GenerateDHKeyPair()
	must(err)
	alicePQPub, alicePQPriv, err := session.GeneratePQKeyPair()
	must(err)

	bobSignedPriv, bobSignedPub := bob.SignedPrekeyKeyPair()

	sessionID := make([]byte, 16)
	_, err = rand.Read(sessionID)
	must(err)

	cipher := constants.CipherAES256GCM

	aliceSession, err := session.OpenSession(true, sharedSecret.SharedSecret, aliceDHPriv, alicePQPriv, alicePQPub,
		session.PeerMaterial{DHPublic: bobSignedPub.X25519PublicKey(), PQPublic: bobSignedPub.MLKEMPublicKey()},
		cipher, sessionID)
	must(err)
	fmt.Println("✓ Alice opened her Triple Ratchet session")

	bobSecret, err := bob.EstablishAsResponder(initMsg)
	must(err)
	bobSession, err := session.OpenSession(false, bobSecret.SharedSecret, bobSignedPriv, bobSignedPriv.MLKEMPrivateKey(), bobSignedPub.MLKEMPublicKey(),
		session.PeerMaterial{DHPublic: aliceDHPriv.PublicKey(), PQPublic: alicePQPub},
		cipher, sessionID)
	must(err)
	fmt.Println("✓ Bob opened his Triple Ratchet session")

	aliceSAS, err := aliceSession.SAS()
	must(err)
	bobSAS, err := bobSession.SAS()
	must(err)
	fmt.Printf("  SAS (Alice): %s  (%s)\n", aliceSAS.String(), aliceSAS.NumericString())
	fmt.Printf("  SAS (Bob):   %s  (%s)\n", bobSAS.String(), bobSAS.NumericString())
	if aliceSAS.String() != bobSAS.String() {
		fmt.Fprintln(os.Stderr, "✗ SAS mismatch — a man-in-the-middle may be present, aborting")
		os.Exit(1)
	}
	fmt.Println("✓ Both sides confirm the same SAS out of band")
	fmt.Println()

	file := make([]byte, fileSize)
	_, err = rand.Read(file)
	must(err)

	const chunkBytes = 64 * 1024
	var chunks [][]byte
	for off := 0; off < len(file); off += chunkBytes {
		end := off + chunkBytes
		if end > len(file) {
			end = len(file)
		}
		chunks = append(chunks, file[off:end])
	}
	fmt.Printf("Transferring a %d-byte file in %d chunks...\n", len(file), len(chunks))

	manifest, manifestWire, err := session.BuildManifest(chunks)
	must(err)
	sig, err := session.SignManifest(alice.IdentityKeyPair(), manifestWire)
	must(err)
	must(session.VerifyManifestSignature(alice.IdentityPublicKey(), manifestWire, sig))
	fmt.Printf("✓ Built and signed an integrity manifest (root %x...)\n", manifest.Root()[:8])

	received := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		wm, err := aliceSession.Encrypt(chunk, nil)
		must(err)
		encoded, err := wm.Encode()
		must(err)

		decoded, err := wire.DecodeWireMessage(encoded)
		must(err)
		plaintext, err := bobSession.Decrypt(decoded, nil)
		must(err)
		received = append(received, plaintext)

		if verbose {
			fmt.Printf("  chunk %d/%d: %d bytes, epoch %d, msg #%d\n", i+1, len(chunks), len(chunk), wm.Epoch, wm.MessageNumber)
		}
	}
	fmt.Println("✓ All chunks encrypted by Alice, decrypted by Bob")

	result, err := session.VerifyFile(manifest, received)
	must(err)
	if !result.OK {
		fmt.Fprintf(os.Stderr, "✗ Integrity check failed, corrupted chunks: %v\n", result.CorruptedChunks)
		os.Exit(1)
	}
	fmt.Println("✓ Received file verified against the Merkle manifest")

	stats := bobSession.Stats()
	fmt.Printf("\nBob received %d messages, %d bytes\n", stats.MessagesReceived, stats.BytesReceived)

	aliceSession.Close()
	bobSession.Close()
	fmt.Println("✓ Sessions closed and ratchet state zeroized")
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
