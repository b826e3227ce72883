package chain

// Contract ABIs for the staking dashboard.
// Only the surface the dashboard consumes is declared: read getters,
// admin methods, and the events the indexer scans. The meta-tx
// execute* methods are invoked by the relay, not encoded here.

// StakingABI is the ABI surface of the staking contract
const StakingABI = `[
	{
		"constant": true,
		"inputs": [],
		"name": "paused",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "admin",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "rewardPoolBalance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "totalStaked",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "user", "type": "address"}],
		"name": "getUserStakeCount",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "user", "type": "address"}],
		"name": "getUserReferralBonus",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "index", "type": "uint256"}
		],
		"name": "stakes",
		"outputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "startTimestamp", "type": "uint256"},
			{"name": "lastRewardUpdate", "type": "uint256"},
			{"name": "accruedReward", "type": "uint256"}
		],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "index", "type": "uint256"}
		],
		"name": "calculateReward",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "index", "type": "uint256"}
		],
		"name": "getUserTotalRewards",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "user", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "pause",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "unpause",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [{"name": "amount", "type": "uint256"}],
		"name": "depositRewardPool",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [{"name": "amount", "type": "uint256"}],
		"name": "withdrawExcessFunds",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [{"name": "to", "type": "address"}],
		"name": "withdrawAllFundsTo",
		"outputs": [],
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "Staked",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "referrer", "type": "address"},
			{"indexed": true, "name": "referee", "type": "address"}
		],
		"name": "ReferralRecorded",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "RewardPoolDeposited",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "AdminWithdrawal",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "reward", "type": "uint256"},
			{"indexed": false, "name": "timestamp", "type": "uint256"}
		],
		"name": "RewardWithdrawn",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "MetaReferralBonusWithdrawn",
		"type": "event"
	}
]`

// TokenABI is the ABI surface of the stablecoin ERC-20 contract
const TokenABI = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`
