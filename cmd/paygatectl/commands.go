package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/paygate/internal/idgen"
	"github.com/mbd888/paygate/internal/vnpay"
)

func secretFlag(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		return "", errors.New("hash secret is required (--secret or VNPAY_HASH_SECRET)")
	}
	return secret, nil
}

func urlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Build a signed payment URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			merchant, _ := cmd.Flags().GetString("merchant")
			gateway, _ := cmd.Flags().GetString("gateway")
			returnURL, _ := cmd.Flags().GetString("return-url")
			amount, _ := cmd.Flags().GetInt64("amount")
			ref, _ := cmd.Flags().GetString("ref")
			desc, _ := cmd.Flags().GetString("desc")
			ip, _ := cmd.Flags().GetString("ip")
			locale, _ := cmd.Flags().GetString("locale")

			if ref == "" {
				ref = idgen.OrderReference(time.Now())
			}

			u, err := vnpay.BuildPaymentURL(vnpay.PaymentRequest{
				OrderReference: ref,
				Amount:         amount,
				Description:    desc,
				Locale:         locale,
				ClientIP:       ip,
			}, merchant, secret, gateway, returnURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	cmd.Flags().String("merchant", os.Getenv("VNPAY_TMN_CODE"), "Merchant terminal code (VNPAY_TMN_CODE)")
	cmd.Flags().String("gateway", envOr("VNPAY_PAYMENT_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"), "Gateway payment URL")
	cmd.Flags().String("return-url", os.Getenv("VNPAY_RETURN_URL"), "Return URL (VNPAY_RETURN_URL)")
	cmd.Flags().Int64P("amount", "a", 0, "Amount in VND")
	cmd.Flags().StringP("ref", "r", "", "Order reference (generated when empty)")
	cmd.Flags().StringP("desc", "d", "", "Order description")
	cmd.Flags().String("ip", "127.0.0.1", "Customer IP address")
	cmd.Flags().String("locale", vnpay.DefaultLocale, "Gateway page locale (vn or en)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("desc")

	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [query-or-url]",
		Short: "Print the canonical string and secure hash for a parameter set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			payload, err := parsePayload(args[0])
			if err != nil {
				return err
			}
			signer, err := vnpay.NewSigner(secret)
			if err != nil {
				return err
			}

			set := vnpay.Canonicalize(vnpay.SignedFields(payload))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canonical: %s\n", set.String())
			fmt.Fprintf(out, "hash:      %s\n", signer.Sign(set))
			return nil
		},
	}
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [query-or-url]",
		Short: "Check the vnp_SecureHash of a callback or payment URL",
		Long: `Check the vnp_SecureHash of a callback or payment URL.

Only the signature is checked; order lookup and amount matching need the
running service. Exits non-zero when the hash does not match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			payload, err := parsePayload(args[0])
			if err != nil {
				return err
			}
			signer, err := vnpay.NewSigner(secret)
			if err != nil {
				return err
			}

			supplied := payload[vnpay.ParamSecureHash]
			if supplied == "" {
				return errors.New("no vnp_SecureHash in input")
			}

			out := cmd.OutOrStdout()
			if !signer.Verify(vnpay.Canonicalize(vnpay.SignedFields(payload)), supplied) {
				fmt.Fprintln(out, "signature: INVALID")
				return errors.New("signature mismatch")
			}
			fmt.Fprintln(out, "signature: valid")
			fmt.Fprintf(out, "order:     %s\n", payload[vnpay.ParamTxnRef])
			if code := payload[vnpay.ParamResponseCode]; code != "" {
				fmt.Fprintf(out, "response:  %s (%s)\n", code, vnpay.ResponseMessage(code))
			}
			return nil
		},
	}
	return cmd
}

// parsePayload accepts a full URL or a bare query string. Duplicate keys
// keep the first value.
func parsePayload(raw string) (vnpay.CallbackPayload, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	payload := make(vnpay.CallbackPayload, len(values))
	for k, v := range values {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
