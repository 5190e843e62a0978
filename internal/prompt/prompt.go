// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !js
// +build !js

package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/term"
)

// mnemonicEntropyBits is the entropy of generated mnemonics, giving 24
// words.
const mnemonicEntropyBits = 256

// readPassword reads a line from the terminal without echoing it.
func readPassword() ([]byte, error) {
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, err
	}
	fmt.Print("\n")
	return bytes.TrimSpace(pass), nil
}

// Password prompts for the password of an existing wallet.
func Password(hint string) ([]byte, error) {
	if hint != "" {
		fmt.Printf("Password hint: %s\n", hint)
	}
	fmt.Print("Enter the wallet password: ")
	return readPassword()
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// reponse.
func promptListBool(reader *bufio.Reader, prefix string,
	defaultEntry string) (bool, error) {

	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// PassPrompt prompts the user for a password with the given prefix.  The
// function will ask the user to confirm the password and will repeat the
// prompts until they enter a matching response.  An empty password is
// returned as nil.
func PassPrompt(prefix string, confirm bool) ([]byte, error) {
	for {
		fmt.Printf("%s: ", prefix)
		pass, err := readPassword()
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			return nil, nil
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm password: ")
		confirm, err := readPassword()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pass, confirm) {
			fmt.Println("The entered passwords do not match")
			continue
		}

		return pass, nil
	}
}

// Hint prompts for an optional password hint.
func Hint(reader *bufio.Reader) (string, error) {
	fmt.Print("Enter an optional password hint: ")
	hint, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hint), nil
}

// Seed prompts the user whether they want to restore an existing mnemonic.
// When the user answers no, a mnemonic is generated and displayed to the
// user along with prompting them for confirmation.  The returned seed is
// the BIP0039 seed of the mnemonic without a passphrase.
func Seed(reader *bufio.Reader) ([]byte, error) {
	useUserSeed, err := promptListBool(reader, "Do you have an "+
		"existing mnemonic you want to restore?", "no")
	if err != nil {
		return nil, err
	}
	if !useUserSeed {
		entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}

		fmt.Println("Your wallet mnemonic is:")
		for i, word := range strings.Split(mnemonic, " ") {
			fmt.Printf("%2d. %-10s", i+1, word)
			if (i+1)%4 == 0 {
				fmt.Printf("\n")
			}
		}

		fmt.Println("\nIMPORTANT: Keep the mnemonic in a safe place as " +
			"you\nwill NOT be able to restore your wallet without it.")
		fmt.Println("Anyone who has access to the mnemonic can also " +
			"restore\nyour wallet and spend its funds.")

		for {
			fmt.Print(`Once you have stored the mnemonic in a safe ` +
				`and secure location, enter "OK" to continue: `)
			confirmSeed, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			confirmSeed = strings.TrimSpace(confirmSeed)
			confirmSeed = strings.Trim(confirmSeed, `"`)
			if confirmSeed == "OK" {
				break
			}
		}

		return bip39.NewSeed(mnemonic, ""), nil
	}

	for {
		fmt.Print("Enter existing wallet mnemonic " +
			"(followed by a blank line): ")

		var mnemonic string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			mnemonic += " " + line
		}
		mnemonic = collapseSpace(strings.TrimSpace(
			strings.ToLower(mnemonic),
		))

		seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
		if err != nil {
			fmt.Printf("Invalid mnemonic: %v\n", err)
			continue
		}

		fmt.Println("\nMnemonic input successful.")
		return seed, nil
	}
}

// Setup prompts for the seed, the password protecting it and an optional
// hint.  The password is nil when the user chooses none.
func Setup(r *bufio.Reader) (seed, password []byte, hint string,
	err error) {

	seed, err = Seed(r)
	if err != nil {
		return
	}

	password, err = PassPrompt("Enter a password for your new wallet "+
		"(empty for none)", true)
	if err != nil || password == nil {
		return
	}

	hint, err = Hint(r)
	return
}

// collapseSpace takes a string and replaces any repeated areas of whitespace
// with a single space character.
func collapseSpace(in string) string {
	whiteSpace := false
	out := ""
	for _, c := range in {
		if unicode.IsSpace(c) {
			if !whiteSpace {
				out = out + " "
			}
			whiteSpace = true
		} else {
			out = out + string(c)
			whiteSpace = false
		}
	}
	return out
}
