// Package gateway and its sub-packages implement the backend services of an exchange to
// interact with multiple blockchains.
/*
gateway provides you with two microservices:

1) a wallet microservice (cmd/walletd) that implements a RESTful API for exchange operations
 such as deriving deposit addresses, checking balances, sweeping collected deposits into the
 hot wallet and broadcasting client withdrawals.

2) a scan microservice (cmd/scand) that polls the configured blockchains for incoming
 deposits, walks mined blocks for transfers to watched deposit addresses and publishes
 accepted deposits as events.

Architecture

The scan and wallet services communicate via a message broker. The scan service observes
deposits twice over: it polls the node wallet for recent incoming transactions, and it walks
every mined block matching its transfers against the recorded deposit addresses. Either path
upserts the deposit under its natural key (currency, transaction and output index), so
observing the same transfer any number of times yields exactly one record. Accepted deposits
are published to the broker, where wallet services consume them. The message broker is
implemented as a product agnostic layer (package lib/msg) and is configured via a JSON config
file at service startup.

Both services share a database for persistence. Its layered implementation (package
lib/store) provides a database product agnostic interface with MongoDB and PostgreSQL
backends.

A blockchain layer (package lib/chain) hides the differences between chain families behind
one adapter interface. The ethereum adapter speaks JSON-RPC to account-model nodes and
recognizes both native transfers and ERC20 token transfers against the configured contract
addresses. The bitcoin adapter speaks JSON-RPC to UTXO-model nodes where one transaction
carries many outputs. All amounts are handled as arbitrary precision decimals end to end,
floats never touch money.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at
startup.

Wallet

The wallet microservice can be started running cmd/walletd/main.go. It exposes an HTTP
RESTful API providing the available chains, account balances, deposit listings, deposit
address creation backed by the node or by the built-in hierarchical deterministic wallet (HD
wallet), deposit sweeps and client withdrawals. A sweep moves an accepted deposit into the
currency's single active hot wallet and pays the network fee out of the swept amount; a
client withdrawal broadcasts the requested amount in full, with the fee paid on top by the
hot wallet.

Scan

The scan microservice can be started running cmd/scand/main.go. It runs one deposit scan and
one block walker per configured blockchain. The walker keeps a ring of recent block hashes to
detect orphaned blocks and persists its position, so a restart resumes where it left off.

*/
package gateway
