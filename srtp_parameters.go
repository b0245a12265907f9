package mediasoup

// SrtpCryptoSuite is an SRTP crypto-suite name, e.g.
// "AES_CM_128_HMAC_SHA1_80".
type SrtpCryptoSuite string

// SrtpParameters is the SRTP encryption configuration of a
// PlainTransport/PipeTransport.
type SrtpParameters struct {
	CryptoSuite SrtpCryptoSuite `json:"cryptoSuite"`
	KeyBase64   string          `json:"keyBase64"`
}
