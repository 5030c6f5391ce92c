// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/threadly/threadly/internal/auth"
	"github.com/threadly/threadly/internal/kv"
)

var resetLinkPattern = regexp.MustCompile(`/change-password/([0-9a-f]{64})`)

type apiResponse struct {
	Errors []auth.FieldError `json:"errors"`
	User   *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	OK *bool `json:"ok"`
}

func newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func call(c *http.Client, method, path string, body any) (int, apiResponse) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out apiResponse
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func registerBob(c *http.Client) string {
	_, resp := call(c, http.MethodPost, "/auth/register", map[string]string{
		"email": "Bob@Bob.com", "password": "bobbobbob", "firstname": "Bob", "lastname": "Bobson",
	})
	Expect(resp.Errors).To(BeEmpty())
	Expect(resp.User).NotTo(BeNil())
	return resp.User.ID
}

func lastResetToken() string {
	msgs := env.mailer.Messages()
	Expect(msgs).NotTo(BeEmpty())
	m := resetLinkPattern.FindStringSubmatch(msgs[len(msgs)-1].HTML)
	Expect(m).To(HaveLen(2))
	return m[1]
}

var _ = Describe("Account lifecycle", func() {
	BeforeEach(resetTables)

	It("registers, logs out and logs back in with any email casing", func() {
		browser := newBrowser()
		id := registerBob(browser)

		_, me := call(browser, http.MethodGet, "/auth/me", nil)
		Expect(me.User).NotTo(BeNil())
		Expect(me.User.ID).To(Equal(id))
		Expect(me.User.Email).To(Equal("bob@bob.com"))

		_, out := call(browser, http.MethodPost, "/auth/logout", nil)
		Expect(*out.OK).To(BeTrue())

		_, me = call(browser, http.MethodGet, "/auth/me", nil)
		Expect(me.User).To(BeNil())

		_, login := call(browser, http.MethodPost, "/auth/login", map[string]string{
			"email": "BOB@bob.com", "password": "bobbobbob",
		})
		Expect(login.User).NotTo(BeNil())
		Expect(login.User.ID).To(Equal(id))
	})

	It("rejects a second account for the same address regardless of case", func() {
		registerBob(newBrowser())

		_, resp := call(newBrowser(), http.MethodPost, "/auth/register", map[string]string{
			"email": "bob@BOB.com", "password": "bobbobbob", "firstname": "Bob", "lastname": "Again",
		})
		Expect(resp.Errors).To(Equal([]auth.FieldError{{Field: "email", Message: auth.MsgEmailTaken}}))
	})

	It("hides the email from other viewers", func() {
		id := registerBob(newBrowser())

		status, resp := call(newBrowser(), http.MethodGet, "/users/"+id, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(resp.User.Email).To(BeEmpty())
	})

	It("deletes only the caller's own account", func() {
		bob := newBrowser()
		bobID := registerBob(bob)

		alice := newBrowser()
		_, resp := call(alice, http.MethodPost, "/auth/register", map[string]string{
			"email": "alice@bob.com", "password": "alicealice", "firstname": "Alice", "lastname": "A",
		})
		aliceID := resp.User.ID

		_, out := call(bob, http.MethodDelete, "/auth/account", nil)
		Expect(*out.OK).To(BeTrue())

		status, _ := call(alice, http.MethodGet, "/users/"+bobID, nil)
		Expect(status).To(Equal(http.StatusNotFound))
		status, _ = call(alice, http.MethodGet, "/users/"+aliceID, nil)
		Expect(status).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Password recovery", func() {
	BeforeEach(resetTables)

	It("resets the password once and logs the browser in", func() {
		registerBob(newBrowser())

		browser := newBrowser()
		_, out := call(browser, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "bob@bob.com"})
		Expect(*out.OK).To(BeTrue())
		token := lastResetToken()

		_, resp := call(browser, http.MethodPost, "/auth/change-password", map[string]string{
			"token": token, "password": "newpassword1",
		})
		Expect(resp.User).NotTo(BeNil())

		_, me := call(browser, http.MethodGet, "/auth/me", nil)
		Expect(me.User).NotTo(BeNil())

		_, again := call(newBrowser(), http.MethodPost, "/auth/change-password", map[string]string{
			"token": token, "password": "another-one",
		})
		Expect(again.Errors).To(Equal([]auth.FieldError{{Field: auth.FieldToken, Message: auth.MsgTokenExpired}}))

		_, err := env.kv.Get(env.ctx, "reset:"+token)
		Expect(err).To(MatchError(kv.ErrNotFound))
	})

	It("lets exactly one of two concurrent redemptions win", func() {
		registerBob(newBrowser())
		call(newBrowser(), http.MethodPost, "/auth/forgot-password", map[string]string{"email": "bob@bob.com"})
		token := lastResetToken()

		var wg sync.WaitGroup
		results := make([]apiResponse, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				_, results[i] = call(newBrowser(), http.MethodPost, "/auth/change-password", map[string]string{
					"token": token, "password": "concurrent-" + string(rune('a'+i)) + "-pass",
				})
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, r := range results {
			if r.User != nil {
				winners++
			}
		}
		Expect(winners).To(Equal(1))
	})

	It("answers unknown addresses the same way without sending mail", func() {
		before := len(env.mailer.Messages())
		_, out := call(newBrowser(), http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ghost@bob.com"})
		Expect(*out.OK).To(BeTrue())
		Expect(env.mailer.Messages()).To(HaveLen(before))
	})
})

var _ = Describe("Key-value entries", func() {
	BeforeEach(resetTables)

	It("expires entries and sweeps them", func() {
		Expect(env.kv.Set(env.ctx, "short", "v", time.Second)).To(Succeed())
		Expect(env.kv.Set(env.ctx, "long", "v", time.Hour)).To(Succeed())

		Eventually(func() error {
			_, err := env.kv.Get(env.ctx, "short")
			return err
		}).WithTimeout(5 * time.Second).Should(MatchError(kv.ErrNotFound))

		n, err := env.kv.DeleteExpired(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically("==", 1))

		v, err := env.kv.Get(env.ctx, "long")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("v"))
	})
})
